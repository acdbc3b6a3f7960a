// Package worker holds background maintenance loops.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/retrykit/internal/infra/storage"
)

// Pruner deletes bulk run audit rows older than the retention period.
type Pruner struct {
	retention time.Duration
	repo      storage.RunPruner
	logger    *slog.Logger
	now       func() time.Time
}

// NewPruner creates a new Pruner worker.
func NewPruner(retention time.Duration, repo storage.RunPruner) *Pruner {
	return &Pruner{
		retention: retention,
		repo:      repo,
		logger:    slog.Default().With("component", "pruner"),
		now:       time.Now,
	}
}

// Interval is how often Start prunes: a tenth of the retention period, kept
// between one minute and one hour.
func (p *Pruner) Interval() time.Duration {
	interval := min(p.retention/10, 1*time.Hour)
	return max(interval, 1*time.Minute)
}

// Start runs the pruner loop until ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()

	// Initial prune
	_, _ = p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = p.Prune(ctx)
		}
	}
}

// Prune deletes runs started before now minus the retention period.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	if p.retention <= 0 {
		return 0, nil
	}
	cutoff := p.now().Add(-p.retention)

	n, err := p.repo.DeleteRunsOlderThan(ctx, cutoff)
	if err != nil {
		p.logger.Error("failed to prune bulk runs", "cutoff", cutoff, "error", err)
		return 0, err
	}
	if n > 0 {
		p.logger.Info("pruned bulk runs", "deleted", n, "cutoff", cutoff)
	}
	return n, nil
}
