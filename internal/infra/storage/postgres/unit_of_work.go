package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/retrykit/internal/core/domain"
	"github.com/vietddude/retrykit/internal/infra/storage"
)

var _ storage.RecordStore = (*DB)(nil)

// UnitOfWork bundles record writes into a single database transaction,
// ensuring atomicity (all succeed or all fail).
type UnitOfWork struct {
	tx *sqlx.Tx
}

// NewUnitOfWork creates a new unit of work with an active transaction.
func (db *DB) NewUnitOfWork(ctx context.Context) (*UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", translateError(err))
	}
	return &UnitOfWork{tx: tx}, nil
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}
	err := u.tx.Commit()
	u.tx = nil
	return translateError(err)
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Already committed or rolled back
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

// RunInTx runs fn in a unit of work, committing on success. Driver errors from
// fn or the commit come back as coded failures.
func (db *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, tx storage.RecordWriter) error) error {
	uow, err := db.NewUnitOfWork(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = uow.Rollback() }()

	if err := fn(ctx, uow); err != nil {
		return translateError(err)
	}
	return uow.Commit()
}

const upsertRecordSQL = `
INSERT INTO records (namespace, key, payload, labels, version, updated_at)
VALUES ($1, $2, $3, $4, 1, $5)
ON CONFLICT (namespace, key) DO UPDATE SET
	payload = EXCLUDED.payload,
	labels = EXCLUDED.labels,
	version = records.version + 1,
	updated_at = EXCLUDED.updated_at`

// UpsertRecord inserts or replaces a record within the transaction.
func (u *UnitOfWork) UpsertRecord(ctx context.Context, r *domain.Record) error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}
	if err := r.Validate(); err != nil {
		return err
	}
	labels, err := json.Marshal(r.Labels)
	if err != nil {
		return fmt.Errorf("failed to encode labels for %s: %w", r.ID(), err)
	}
	_, err = u.tx.ExecContext(ctx, upsertRecordSQL, r.Namespace, r.Key, r.Payload, string(labels), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", r.ID(), translateError(err))
	}
	return nil
}

// DeleteRecord deletes a record within the transaction.
func (u *UnitOfWork) DeleteRecord(ctx context.Context, namespace, key string) error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}
	_, err := u.tx.ExecContext(ctx, `DELETE FROM records WHERE namespace = $1 AND key = $2`, namespace, key)
	if err != nil {
		return fmt.Errorf("failed to delete record %s/%s: %w", namespace, key, translateError(err))
	}
	return nil
}

type recordRow struct {
	Namespace string    `db:"namespace"`
	Key       string    `db:"key"`
	Payload   string    `db:"payload"`
	Labels    []byte    `db:"labels"`
	Version   int64     `db:"version"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (row recordRow) toDomain() (*domain.Record, error) {
	r := &domain.Record{
		Namespace: row.Namespace,
		Key:       row.Key,
		Payload:   row.Payload,
		Version:   row.Version,
		UpdatedAt: row.UpdatedAt,
	}
	if len(row.Labels) > 0 {
		if err := json.Unmarshal(row.Labels, &r.Labels); err != nil {
			return nil, fmt.Errorf("failed to decode labels for %s: %w", r.ID(), err)
		}
	}
	return r, nil
}

const selectRecordSQL = `SELECT namespace, key, payload, labels, version, updated_at FROM records`

// GetRecord retrieves a record by namespace and key.
func (db *DB) GetRecord(ctx context.Context, namespace, key string) (*domain.Record, error) {
	var row recordRow
	err := db.GetContext(ctx, &row, selectRecordSQL+` WHERE namespace = $1 AND key = $2`, namespace, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", translateError(err))
	}
	return row.toDomain()
}

// ListRecords retrieves every record in a namespace.
func (db *DB) ListRecords(ctx context.Context, namespace string) ([]*domain.Record, error) {
	var rows []recordRow
	err := db.SelectContext(ctx, &rows, selectRecordSQL+` WHERE namespace = $1 ORDER BY key`, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", translateError(err))
	}

	records := make([]*domain.Record, 0, len(rows))
	for _, row := range rows {
		r, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// SaveRun stores the audit row of a bulk run.
func (db *DB) SaveRun(ctx context.Context, run *domain.BulkRun) error {
	_, err := db.ExecContext(ctx, `
INSERT INTO bulk_runs (id, operation, mode, items, succeeded, failed, retries, rolled_back, error, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID.String(), run.Operation, string(run.Mode), run.Items, run.Succeeded, run.Failed,
		run.Retries, run.RolledBack, run.Error, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save bulk run %s: %w", run.ID, translateError(err))
	}
	return nil
}

// DeleteRunsOlderThan removes bulk runs started before cutoff.
func (db *DB) DeleteRunsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM bulk_runs WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete bulk runs: %w", translateError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted bulk runs: %w", err)
	}
	return n, nil
}
