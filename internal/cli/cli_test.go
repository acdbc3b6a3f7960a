package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/retrykit/internal/core/domain"
	"github.com/vietddude/retrykit/internal/core/failure"
	"github.com/vietddude/retrykit/internal/resilience/batch"
	"github.com/vietddude/retrykit/internal/resilience/bulk"
)

func TestLoadRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
operation: import-users
records:
  - namespace: users
    key: "1"
    payload: '{"name":"ada"}'
    labels:
      source: csv
  - namespace: users
    key: "2"
    payload: '{"name":"grace"}'
`), 0o600))

	rf, err := loadRecords(path)
	require.NoError(t, err)
	assert.Equal(t, "import-users", rf.Operation)
	require.Len(t, rf.Records, 2)
	assert.Equal(t, "users/1", rf.Records[0].ID())
	assert.Equal(t, "csv", rf.Records[0].Labels["source"])
	assert.Equal(t, `{"name":"grace"}`, rf.Records[1].Payload)
}

func TestLoadRecords_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.yaml")
	require.NoError(t, os.WriteFile(path, []byte("records: []\n"), 0o600))

	_, err := loadRecords(path)
	assert.ErrorContains(t, err, "has no records")
}

func testResults() []batch.ItemResult[*domain.Record, string] {
	rec := func(k string) *domain.Record { return &domain.Record{Namespace: "users", Key: k} }
	return []batch.ItemResult[*domain.Record, string]{
		{Index: 0, Item: rec("a"), Attempted: true, Err: bulk.ErrRolledBack},
		{Index: 1, Item: rec("b"), Attempted: true, Err: failure.New("VALIDATION_ERROR", "bad payload")},
		{Index: 2, Item: rec("c"), Err: batch.ErrNotAttempted},
		{Index: 3, Item: rec("d"), Attempted: true, Success: true, Result: "users/d"},
		{Index: 4, Item: rec("e"), Attempted: true, Err: errors.New("weird")},
	}
}

func TestDeadLetters(t *testing.T) {
	run := domain.NewBulkRun("import", domain.BulkModeAtomic, 5)

	items := deadLetters(run, testResults())
	require.Len(t, items, 2)

	assert.Equal(t, "users/b", items[0].ID)
	assert.Equal(t, "VALIDATION_ERROR", items[0].ErrorCode)
	assert.Equal(t, run.ID.String(), items[0].RunID)
	assert.Equal(t, "import", items[0].Operation)
	assert.Equal(t, "b", items[0].Record.Key)

	assert.Equal(t, "users/e", items[1].ID)
	assert.Equal(t, "unknown", items[1].ErrorCode)
}

func TestPrintResults(t *testing.T) {
	var buf bytes.Buffer
	printResults(&buf, testResults())

	out := buf.String()
	assert.Contains(t, out, "users/a")
	assert.Contains(t, out, "rolled back")
	assert.Contains(t, out, "skipped")
	assert.Contains(t, out, "bad payload")
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty())
}
