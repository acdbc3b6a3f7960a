package failure

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
)

var errnoCodes = map[syscall.Errno]string{
	syscall.ECONNRESET:   "ECONNRESET",
	syscall.ECONNREFUSED: "ECONNREFUSED",
	syscall.ECONNABORTED: "ECONNABORTED",
	syscall.ETIMEDOUT:    "ETIMEDOUT",
	syscall.EPIPE:        "EPIPE",
	syscall.ENETUNREACH:  "ENETUNREACH",
	syscall.ENETDOWN:     "ENETDOWN",
	syscall.EHOSTUNREACH: "EHOSTUNREACH",
	syscall.EHOSTDOWN:    "EHOSTDOWN",
	syscall.EADDRINUSE:   "EADDRINUSE",
}

// NetworkCodeOf returns an errno-style code for a transport failure in err's chain,
// or "" when err carries none.
func NetworkCodeOf(err error) string {
	if err == nil {
		return ""
	}

	var coded interface{ NetworkCode() string }
	if errors.As(err, &coded) && coded.NetworkCode() != "" {
		return coded.NetworkCode()
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		if code, ok := errnoCodes[errno]; ok {
			return code
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout || dnsErr.IsTemporary {
			return "EAI_AGAIN"
		}
		return "ENOTFOUND"
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return "ETIMEDOUT"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "ETIMEDOUT"
	}

	return ""
}

// NewNetworkError builds a NetworkError from a transport error, or returns nil
// when err is not a recognised network failure.
func NewNetworkError(op string, err error) *NetworkError {
	code := NetworkCodeOf(err)
	if code == "" {
		return nil
	}
	return &NetworkError{Code: code, Op: op, Err: err}
}
