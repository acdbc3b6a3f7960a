package postgres

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/vietddude/retrykit/internal/core/failure"
	"github.com/vietddude/retrykit/internal/resilience/classify"
)

func TestTranslateError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      string
		retryable bool
	}{
		{"pgx serialization", &pgconn.PgError{Code: "40001"}, "SERIALIZATION_FAILURE", true},
		{"pgx deadlock", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "40P01"}), "DEADLOCK", true},
		{"pgx unique", &pgconn.PgError{Code: "23505"}, "UNIQUE_VIOLATION", false},
		{"pgx check", &pgconn.PgError{Code: "23514"}, "CONFLICT", false},
		{"pgx bad text", &pgconn.PgError{Code: "22P02"}, "VALIDATION_ERROR", false},
		{"pgx connection", &pgconn.PgError{Code: "08006"}, "CONNECTION_ERROR", true},
		{"pq lock timeout", &pq.Error{Code: "55P03"}, "LOCK_TIMEOUT", true},
		{"pq too many connections", &pq.Error{Code: "53300"}, "TOO_MANY_CONNECTIONS", true},
		{"pq not null", &pq.Error{Code: "23502"}, "NOT_NULL_VIOLATION", false},
		{"bad conn", driver.ErrBadConn, "CONNECTION_ERROR", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateError(tt.err)
			assert.Equal(t, tt.code, failure.CodeOf(got))
			assert.Equal(t, tt.retryable, classify.Classify(got).IsRetryable)
		})
	}
}

func TestTranslateError_Passthrough(t *testing.T) {
	assert.NoError(t, translateError(nil))

	plain := errors.New("plain")
	assert.Equal(t, plain, translateError(plain))

	unknown := &pgconn.PgError{Code: "XX000"}
	assert.Equal(t, error(unknown), translateError(unknown))

	coded := failure.Wrap("DEADLOCK", true, &pgconn.PgError{Code: "40P01"})
	assert.Equal(t, error(coded), translateError(coded))
}

func TestDriverName(t *testing.T) {
	name, err := driverName("")
	assert.NoError(t, err)
	assert.Equal(t, DriverPgx, name)

	name, err = driverName("pq")
	assert.NoError(t, err)
	assert.Equal(t, DriverPq, name)

	_, err = driverName("mysql")
	assert.Error(t, err)
}
