package main

import "github.com/vietddude/retrykit/internal/cli"

func main() {
	cli.Execute()
}
