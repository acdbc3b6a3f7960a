package memory

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/vietddude/retrykit/internal/core/domain"
	"github.com/vietddude/retrykit/internal/infra/storage"
)

var errTxClosed = errors.New("transaction already completed")

// MemoryStorage is an in-process transactional record store. Writes made inside
// RunInTx are staged and applied together on commit.
type MemoryStorage struct {
	records map[string]*domain.Record
	runs    []*domain.BulkRun
	mu      sync.RWMutex

	commits     int
	rollbacks   int
	failCommits []error
}

var _ storage.RecordStore = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records: make(map[string]*domain.Record),
	}
}

// FailNextCommits makes the next commits fail with errs, in order, without
// applying their writes.
func (s *MemoryStorage) FailNextCommits(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommits = append(s.failCommits, errs...)
}

// Stats returns the number of committed and rolled back transactions.
func (s *MemoryStorage) Stats() (commits, rollbacks int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits, s.rollbacks
}

func (s *MemoryStorage) RunInTx(ctx context.Context, fn func(ctx context.Context, tx storage.RecordWriter) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{
		store:   s,
		writes:  make(map[string]*domain.Record),
		deletes: make(map[string]struct{}),
	}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return tx.commit()
}

func (s *MemoryStorage) GetRecord(ctx context.Context, namespace, key string) (*domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[recordKey(namespace, key)]
	if !ok {
		return nil, storage.ErrRecordNotFound
	}
	return cloneRecord(r), nil
}

func (s *MemoryStorage) ListRecords(ctx context.Context, namespace string) ([]*domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Record
	for _, r := range s.records {
		if r.Namespace == namespace {
			out = append(out, cloneRecord(r))
		}
	}
	slices.SortFunc(out, func(a, b *domain.Record) int {
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})
	return out, nil
}

func (s *MemoryStorage) SaveRun(ctx context.Context, run *domain.BulkRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs = append(s.runs, &cp)
	return nil
}

// Runs returns the stored bulk runs in insertion order.
func (s *MemoryStorage) Runs() []*domain.BulkRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.runs)
}

func (s *MemoryStorage) DeleteRunsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.runs)
	s.runs = slices.DeleteFunc(s.runs, func(r *domain.BulkRun) bool {
		return r.StartedAt.Before(cutoff)
	})
	return int64(before - len(s.runs)), nil
}

func (s *MemoryStorage) Close() error { return nil }

type memoryTx struct {
	store   *MemoryStorage
	writes  map[string]*domain.Record
	deletes map[string]struct{}
	done    bool
}

func (t *memoryTx) UpsertRecord(ctx context.Context, r *domain.Record) error {
	if t.done {
		return errTxClosed
	}
	if err := r.Validate(); err != nil {
		return err
	}
	k := recordKey(r.Namespace, r.Key)
	delete(t.deletes, k)
	t.writes[k] = cloneRecord(r)
	return nil
}

func (t *memoryTx) DeleteRecord(ctx context.Context, namespace, key string) error {
	if t.done {
		return errTxClosed
	}
	k := recordKey(namespace, key)
	delete(t.writes, k)
	t.deletes[k] = struct{}{}
	return nil
}

func (t *memoryTx) commit() error {
	t.done = true
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.failCommits) > 0 {
		err := s.failCommits[0]
		s.failCommits = s.failCommits[1:]
		s.rollbacks++
		return err
	}

	now := time.Now().UTC()
	for k := range t.deletes {
		delete(s.records, k)
	}
	for k, r := range t.writes {
		if prev, ok := s.records[k]; ok {
			r.Version = prev.Version + 1
		} else {
			r.Version = 1
		}
		r.UpdatedAt = now
		s.records[k] = r
	}
	s.commits++
	return nil
}

func (t *memoryTx) rollback() {
	t.done = true
	t.store.mu.Lock()
	t.store.rollbacks++
	t.store.mu.Unlock()
}

func recordKey(namespace, key string) string {
	return namespace + "\x00" + key
}

func cloneRecord(r *domain.Record) *domain.Record {
	cp := *r
	cp.Labels = maps.Clone(r.Labels)
	return &cp
}
