package postgres

import (
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/vietddude/retrykit/internal/core/failure"
)

// translateError turns driver errors into coded failures so the classifier can
// tell a serialization conflict from a constraint violation. Unknown errors are
// returned unchanged.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var coded *failure.Error
	if errors.As(err, &coded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return sqlStateError(pgErr.Code, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return sqlStateError(string(pqErr.Code), err)
	}
	if errors.Is(err, driver.ErrBadConn) {
		return failure.Wrap("CONNECTION_ERROR", true, err)
	}
	return err
}

func sqlStateError(state string, err error) error {
	code, retryable := sqlStateCode(state)
	if code == "" {
		return err
	}
	return failure.Wrap(code, retryable, err)
}

// sqlStateCode maps a SQLSTATE to a failure code and its retryability.
func sqlStateCode(state string) (string, bool) {
	switch state {
	case "40001":
		return "SERIALIZATION_FAILURE", true
	case "40P01":
		return "DEADLOCK", true
	case "55P03":
		return "LOCK_TIMEOUT", true
	case "57014":
		return "QUERY_CANCELED", true
	case "53300":
		return "TOO_MANY_CONNECTIONS", true
	case "57P01", "57P02", "57P03":
		return "CONNECTION_ERROR", true
	case "23505":
		return "UNIQUE_VIOLATION", false
	case "23503":
		return "FOREIGN_KEY_VIOLATION", false
	case "23502":
		return "NOT_NULL_VIOLATION", false
	}

	switch {
	case strings.HasPrefix(state, "08"):
		return "CONNECTION_ERROR", true
	case strings.HasPrefix(state, "22"):
		return "VALIDATION_ERROR", false
	case strings.HasPrefix(state, "23"):
		return "CONFLICT", false
	}
	return "", false
}
