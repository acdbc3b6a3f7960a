package domain

import (
	"time"

	"github.com/google/uuid"
)

// BulkMode selects how a bulk run treats item failures.
type BulkMode string

const (
	// BulkModeAtomic commits all items in one transaction or none of them.
	BulkModeAtomic BulkMode = "atomic"
	// BulkModePartial commits each item in its own transaction.
	BulkModePartial BulkMode = "partial"
)

// Valid reports whether m is a known mode.
func (m BulkMode) Valid() bool {
	return m == BulkModeAtomic || m == BulkModePartial
}

// BulkRun is the audit row stored for each bulk execution.
type BulkRun struct {
	ID         uuid.UUID `db:"id"`
	Operation  string    `db:"operation"`
	Mode       BulkMode  `db:"mode"`
	Items      int       `db:"items"`
	Succeeded  int       `db:"succeeded"`
	Failed     int       `db:"failed"`
	Retries    int       `db:"retries"`
	RolledBack bool      `db:"rolled_back"`
	Error      string    `db:"error"`
	StartedAt  time.Time `db:"started_at"`
	FinishedAt time.Time `db:"finished_at"`
}

// NewBulkRun starts a run record with a fresh ID.
func NewBulkRun(operation string, mode BulkMode, items int) *BulkRun {
	return &BulkRun{
		ID:        uuid.New(),
		Operation: operation,
		Mode:      mode,
		Items:     items,
		StartedAt: time.Now().UTC(),
	}
}
