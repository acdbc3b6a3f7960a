// Package activity coalesces bursts of progress updates per key and flushes the
// latest one after a quiet period.
package activity

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"
)

// Update is the flushed payload for one key.
type Update struct {
	Key       string
	Fields    map[string]any
	Touches   int
	UpdatedAt time.Time
}

// Sink receives flushed updates. Sink errors are logged and otherwise ignored.
type Sink interface {
	Record(ctx context.Context, u Update) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, u Update) error

func (f SinkFunc) Record(ctx context.Context, u Update) error { return f(ctx, u) }

// Config for a Debouncer.
type Config struct {
	// Quiet is how long a key must stay untouched before it is flushed.
	Quiet time.Duration `yaml:"quiet"`
	// FlushTimeout bounds a single Sink call.
	FlushTimeout time.Duration `yaml:"flush_timeout"`
}

const (
	DefaultQuiet        = 2 * time.Second
	DefaultFlushTimeout = 5 * time.Second
)

type entry struct {
	update Update
	timer  *time.Timer
	gen    uint64
}

// Debouncer owns the per-key schedule of pending flushes.
type Debouncer struct {
	cfg    Config
	sink   Sink
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending map[string]*entry
	gen     uint64
	closed  bool
}

// NewDebouncer creates a Debouncer that flushes into sink.
func NewDebouncer(sink Sink, cfg Config) *Debouncer {
	if cfg.Quiet <= 0 {
		cfg.Quiet = DefaultQuiet
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultFlushTimeout
	}
	return &Debouncer{
		cfg:     cfg,
		sink:    sink,
		logger:  slog.Default().With("component", "activity"),
		now:     time.Now,
		pending: make(map[string]*entry),
	}
}

// Touch merges fields into the pending update for key and restarts its quiet
// period. Touches after Close are dropped.
func (d *Debouncer) Touch(key string, fields map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	d.gen++
	gen := d.gen
	e, ok := d.pending[key]
	if !ok {
		e = &entry{update: Update{Key: key, Fields: make(map[string]any, len(fields))}}
		d.pending[key] = e
	} else {
		e.timer.Stop()
	}
	maps.Copy(e.update.Fields, fields)
	e.update.Touches++
	e.update.UpdatedAt = d.now()
	e.gen = gen
	e.timer = time.AfterFunc(d.cfg.Quiet, func() { d.fire(key, gen) })
}

// Flush sends the pending update for key now. It reports whether one existed.
func (d *Debouncer) Flush(key string) bool {
	u, ok := d.take(key, 0)
	if ok {
		d.record(u)
	}
	return ok
}

// FlushAll sends every pending update and returns how many were sent.
func (d *Debouncer) FlushAll() int {
	d.mu.Lock()
	updates := make([]Update, 0, len(d.pending))
	for key, e := range d.pending {
		e.timer.Stop()
		updates = append(updates, e.update)
		delete(d.pending, key)
	}
	d.mu.Unlock()

	for _, u := range updates {
		d.record(u)
	}
	return len(updates)
}

// Cancel drops the pending update for key without sending it.
func (d *Debouncer) Cancel(key string) bool {
	_, ok := d.take(key, 0)
	return ok
}

// Pending returns the number of keys waiting to be flushed.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close flushes everything still pending and stops accepting touches.
func (d *Debouncer) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.FlushAll()
}

func (d *Debouncer) fire(key string, gen uint64) {
	if u, ok := d.take(key, gen); ok {
		d.record(u)
	}
}

// take removes key from the table. A non-zero gen only matches the timer that
// scheduled it, so a stale timer cannot flush a newer touch.
func (d *Debouncer) take(key string, gen uint64) (Update, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.pending[key]
	if !ok || (gen != 0 && e.gen != gen) {
		return Update{}, false
	}
	e.timer.Stop()
	delete(d.pending, key)
	return e.update, true
}

func (d *Debouncer) record(u Update) {
	if d.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.FlushTimeout)
	defer cancel()
	if err := d.sink.Record(ctx, u); err != nil {
		d.logger.Warn("failed to record activity", "key", u.Key, "error", err)
	}
}

// LogSink writes flushed updates to a logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Record(_ context.Context, u Update) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	args := make([]any, 0, 2*len(u.Fields)+4)
	args = append(args, "key", u.Key, "touches", u.Touches)
	for k, v := range u.Fields {
		args = append(args, k, v)
	}
	logger.Info("activity", args...)
	return nil
}
