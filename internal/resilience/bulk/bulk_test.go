package bulk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/retrykit/internal/core/domain"
	"github.com/vietddude/retrykit/internal/core/failure"
	"github.com/vietddude/retrykit/internal/infra/storage"
	"github.com/vietddude/retrykit/internal/infra/storage/memory"
	"github.com/vietddude/retrykit/internal/resilience/batch"
	"github.com/vietddude/retrykit/internal/resilience/retry"
)

func noSleep(context.Context, time.Duration) error { return nil }

func testOptions(mode Mode) Options {
	return Options{
		Mode:          mode,
		OperationName: "test-" + string(mode),
		Retry:         retry.RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond},
		Concurrency:   2,
		Sleep:         noSleep,
	}
}

var keys = []string{"a", "b", "c", "d", "e"}

// writeUnless upserts one record per key and fails permanently on bad.
func writeUnless(bad string) func(ctx context.Context, tx storage.RecordWriter, key string) (string, error) {
	return func(ctx context.Context, tx storage.RecordWriter, key string) (string, error) {
		if key == bad {
			return "", failure.New("VALIDATION_ERROR", "bad record "+key)
		}
		if err := tx.UpsertRecord(ctx, &domain.Record{Namespace: "ns", Key: key, Payload: key}); err != nil {
			return "", err
		}
		return "ok:" + key, nil
	}
}

func countRecords(t *testing.T, s *memory.MemoryStorage) int {
	t.Helper()
	list, err := s.ListRecords(context.Background(), "ns")
	require.NoError(t, err)
	return len(list)
}

func TestExecuteTransaction_AtomicRollsBackEverything(t *testing.T) {
	store := memory.NewMemoryStorage()

	res, err := ExecuteTransaction(context.Background(), store, keys, writeUnless("c"), testOptions(ModeAtomic))

	var rbErr *RollbackError
	require.ErrorAs(t, err, &rbErr)
	assert.Equal(t, 2, rbErr.Index)
	assert.Equal(t, "VALIDATION_ERROR", failure.CodeOf(err))

	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.True(t, res.RolledBack)
	assert.Equal(t, 0, res.SuccessCount)
	assert.Equal(t, 5, res.FailureCount)
	assert.Equal(t, 0, res.RetriesAttempted)
	assert.Equal(t, 0, countRecords(t, store))

	assert.ErrorIs(t, res.Results[0].Err, ErrRolledBack)
	assert.Equal(t, "VALIDATION_ERROR", failure.CodeOf(res.Results[2].Err))
	assert.False(t, res.Results[4].Attempted)
	assert.ErrorIs(t, res.Results[4].Err, batch.ErrNotAttempted)
}

func TestExecuteTransaction_PartialKeepsSuccesses(t *testing.T) {
	store := memory.NewMemoryStorage()

	res, err := ExecuteTransaction(context.Background(), store, keys, writeUnless("c"), testOptions(ModePartial))

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.RolledBack)
	assert.Equal(t, 4, res.SuccessCount)
	assert.Equal(t, 1, res.FailureCount)
	assert.Equal(t, 4, countRecords(t, store))

	require.Len(t, res.Results, 5)
	for i, ir := range res.Results {
		assert.Equal(t, keys[i], ir.Item)
		if ir.Item == "c" {
			assert.False(t, ir.Success)
			continue
		}
		assert.True(t, ir.Success)
		assert.Equal(t, "ok:"+ir.Item, ir.Result)
	}
}

func TestExecuteTransaction_AtomicRetriesTransientCommit(t *testing.T) {
	store := memory.NewMemoryStorage()
	store.FailNextCommits(failure.Retryable("SERIALIZATION_FAILURE", "could not serialize access"))

	res, err := ExecuteTransaction(context.Background(), store, keys, writeUnless(""), testOptions(ModeAtomic))

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.RetriesAttempted)
	assert.Equal(t, 5, countRecords(t, store))

	commits, rollbacks := store.Stats()
	assert.Equal(t, 1, commits)
	assert.Equal(t, 1, rollbacks)
}

func TestExecuteTransaction_AtomicCommitFailureExhausts(t *testing.T) {
	store := memory.NewMemoryStorage()
	conflict := failure.Retryable("SERIALIZATION_FAILURE", "conflict")
	store.FailNextCommits(conflict, conflict, conflict)

	res, err := ExecuteTransaction(context.Background(), store, keys, writeUnless(""), testOptions(ModeAtomic))

	var rbErr *RollbackError
	require.ErrorAs(t, err, &rbErr)
	assert.Equal(t, -1, rbErr.Index)
	assert.ErrorIs(t, err, conflict)
	assert.Equal(t, 2, res.RetriesAttempted)
	for _, ir := range res.Results {
		assert.True(t, ir.Attempted)
		assert.ErrorIs(t, ir.Err, ErrRolledBack)
	}
	assert.Equal(t, 0, countRecords(t, store))
}

func TestExecuteTransaction_PartialRetriesPerItem(t *testing.T) {
	store := memory.NewMemoryStorage()
	var (
		mu    sync.Mutex
		tries = map[string]int{}
	)
	fn := func(ctx context.Context, tx storage.RecordWriter, key string) (string, error) {
		mu.Lock()
		tries[key]++
		n := tries[key]
		mu.Unlock()
		if key == "b" && n == 1 {
			return "", failure.Retryable("DEADLOCK", "deadlock detected")
		}
		return key, tx.UpsertRecord(ctx, &domain.Record{Namespace: "ns", Key: key})
	}

	res, err := ExecuteTransaction(context.Background(), store, keys, fn, testOptions(ModePartial))

	require.NoError(t, err)
	assert.Equal(t, 5, res.SuccessCount)
	assert.Equal(t, 1, res.RetriesAttempted)
	assert.Equal(t, 2, tries["b"])
	assert.Equal(t, 5, countRecords(t, store))
}

func TestExecuteTransaction_AtomicCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := memory.NewMemoryStorage()

	res, err := ExecuteTransaction(ctx, store, keys, writeUnless(""), testOptions(ModeAtomic))

	require.Error(t, err)
	assert.True(t, failure.IsAbort(err))
	for _, ir := range res.Results {
		assert.False(t, ir.Attempted)
	}
}

func TestExecuteTransaction_InvalidMode(t *testing.T) {
	opts := testOptions("eventual")
	res, err := ExecuteTransaction(context.Background(), memory.NewMemoryStorage(), keys, writeUnless(""), opts)
	require.Error(t, err)
	assert.Nil(t, res)
}

func TestExecuteWrite(t *testing.T) {
	store := memory.NewMemoryStorage()
	store.FailNextCommits(failure.Retryable("DEADLOCK", "deadlock detected"))

	res, err := ExecuteWrite(context.Background(), store, func(ctx context.Context, tx storage.RecordWriter) (int, error) {
		for _, k := range keys {
			if err := tx.UpsertRecord(ctx, &domain.Record{Namespace: "ns", Key: k}); err != nil {
				return 0, err
			}
		}
		return len(keys), nil
	}, testOptions(ModeAtomic))

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 5, res.Result)
	assert.Equal(t, 1, res.RetriesAttempted)
	assert.Equal(t, 5, countRecords(t, store))
}

func TestExecuteWrite_NoRetries(t *testing.T) {
	store := memory.NewMemoryStorage()
	store.FailNextCommits(failure.Retryable("DEADLOCK", "deadlock detected"))
	opts := testOptions(ModeAtomic)
	opts.MaxRetries = -1

	res, err := ExecuteWrite(context.Background(), store, func(ctx context.Context, tx storage.RecordWriter) (int, error) {
		return 1, nil
	}, opts)

	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.RetriesAttempted)
	assert.True(t, errors.Is(res.Err, err))
}
