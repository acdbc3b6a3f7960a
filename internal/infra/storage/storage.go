package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/retrykit/internal/core/domain"
)

// ErrRecordNotFound is returned when a record doesn't exist
var ErrRecordNotFound = errors.New("record not found")

// Transactor runs fn inside one transaction. The transaction commits when fn
// returns nil and rolls back otherwise. Sibling calls are independent
// transactions.
type Transactor[Tx any] interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// RecordWriter is the write side of a transaction.
type RecordWriter interface {
	// UpsertRecord inserts or replaces a record and bumps its version
	UpsertRecord(ctx context.Context, r *domain.Record) error

	// DeleteRecord removes a record; deleting a missing record is not an error
	DeleteRecord(ctx context.Context, namespace, key string) error
}

// RecordStore is a transactional record store.
type RecordStore interface {
	Transactor[RecordWriter]

	// GetRecord returns ErrRecordNotFound for a missing record
	GetRecord(ctx context.Context, namespace, key string) (*domain.Record, error)

	// ListRecords returns every record in a namespace ordered by key
	ListRecords(ctx context.Context, namespace string) ([]*domain.Record, error)

	// SaveRun stores the audit row of a bulk run
	SaveRun(ctx context.Context, run *domain.BulkRun) error

	RunPruner

	Close() error
}

// RunPruner removes old bulk run audit rows.
type RunPruner interface {
	// DeleteRunsOlderThan deletes runs started before cutoff and returns how many were removed
	DeleteRunsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
