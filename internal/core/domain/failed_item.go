package domain

import "time"

// FailedItem is a bulk item that failed permanently, kept for later inspection
// or replay.
type FailedItem struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Operation string    `json:"operation"`
	ErrorCode string    `json:"error_code,omitempty"`
	Error     string    `json:"error"`
	Record    *Record   `json:"record,omitempty"`
	FailedAt  time.Time `json:"failed_at"`
}
