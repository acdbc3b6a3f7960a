package postgres

import (
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "github.com/lib/pq"              // registers "postgres"
)

// Supported database/sql driver names.
const (
	DriverPgx = "pgx"
	DriverPq  = "postgres"
)

func driverName(name string) (string, error) {
	switch name {
	case "", DriverPgx:
		return DriverPgx, nil
	case DriverPq, "pq":
		return DriverPq, nil
	default:
		return "", fmt.Errorf("unsupported postgres driver %q", name)
	}
}
