package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TEST PLAN: SQLite Record Store
//
// Test Cases:
// 1. Upsert then Get round-trips all fields, including nanosecond mtime.
// 2. Upsert replaces the prior record for the same path.
// 3. Delete removes a record; deleting an absent path is a no-op.
// 4. All returns records ordered by path.
// 5. Count tracks the record set.
// 6. Records survive a close-and-reopen cycle (durability).
// 7. Schema creation is idempotent and versioned.

func testRecord(path string) *Record {
	return &Record{
		Path:        path,
		SizeBytes:   1234,
		ModTime:     time.Date(2026, 7, 2, 15, 4, 5, 123456789, time.UTC),
		Fingerprint: "deadbeef",
		Metadata:    json.RawMessage(`{"language":"go","lines":{"total":10}}`),
		ExtractedAt: time.Date(2026, 7, 2, 15, 4, 6, 0, time.UTC),
	}
}

func TestRecordWriter_UpsertAndGet(t *testing.T) {
	t.Parallel()

	db := NewTestDB(t)
	writer := NewRecordWriter(db)
	reader := NewRecordReader(db)

	rec := testRecord("cmd/main.go")
	require.NoError(t, writer.Upsert(rec))

	got, err := reader.Get("cmd/main.go")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, rec.Path, got.Path)
	assert.Equal(t, rec.SizeBytes, got.SizeBytes)
	assert.Equal(t, rec.Fingerprint, got.Fingerprint)
	assert.JSONEq(t, string(rec.Metadata), string(got.Metadata))
	// Nanosecond precision must survive the round trip; change detection
	// compares mtimes for exact equality.
	assert.True(t, rec.ModTime.Equal(got.ModTime), "mtime mismatch: want %v, got %v", rec.ModTime, got.ModTime)
	assert.True(t, rec.ExtractedAt.Equal(got.ExtractedAt))
}

func TestRecordReader_GetMissing(t *testing.T) {
	t.Parallel()

	reader := NewRecordReader(NewTestDB(t))
	got, err := reader.Get("no/such/file.go")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRecordWriter_UpsertReplaces(t *testing.T) {
	t.Parallel()

	db := NewTestDB(t)
	writer := NewRecordWriter(db)
	reader := NewRecordReader(db)

	rec := testRecord("a.go")
	require.NoError(t, writer.Upsert(rec))

	rec.SizeBytes = 99
	rec.Fingerprint = "cafef00d"
	require.NoError(t, writer.Upsert(rec))

	got, err := reader.Get("a.go")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(99), got.SizeBytes)
	assert.Equal(t, "cafef00d", got.Fingerprint)

	count, err := reader.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRecordWriter_NilMetadataDefaults(t *testing.T) {
	t.Parallel()

	db := NewTestDB(t)
	writer := NewRecordWriter(db)
	reader := NewRecordReader(db)

	rec := testRecord("bare.go")
	rec.Metadata = nil
	require.NoError(t, writer.Upsert(rec))

	got, err := reader.Get("bare.go")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.JSONEq(t, `{}`, string(got.Metadata))
}

func TestRecordWriter_Delete(t *testing.T) {
	t.Parallel()

	db := NewTestDB(t)
	writer := NewRecordWriter(db)
	reader := NewRecordReader(db)

	require.NoError(t, writer.Upsert(testRecord("a.go")))
	require.NoError(t, writer.Delete("a.go"))

	got, err := reader.Get("a.go")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Absent path: no error.
	assert.NoError(t, writer.Delete("a.go"))
}

func TestRecordReader_AllOrdered(t *testing.T) {
	t.Parallel()

	db := NewTestDB(t)
	writer := NewRecordWriter(db)
	reader := NewRecordReader(db)

	for _, p := range []string{"z.go", "a.go", "m/n.go"} {
		require.NoError(t, writer.Upsert(testRecord(p)))
	}

	all, err := reader.All()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a.go", all[0].Path)
	assert.Equal(t, "m/n.go", all[1].Path)
	assert.Equal(t, "z.go", all[2].Path)
}

func TestRecordStore_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	db, dbPath := NewTestDBFile(t)
	require.NoError(t, NewRecordWriter(db).Upsert(testRecord("durable.go")))
	require.NoError(t, db.Close())

	db2, err := Open(dbPath)
	require.NoError(t, err)
	defer db2.Close()

	got, err := NewRecordReader(db2).Get("durable.go")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "deadbeef", got.Fingerprint)
}

func TestCreateSchema_Idempotent(t *testing.T) {
	t.Parallel()

	db := NewTestDB(t)
	require.NoError(t, CreateSchema(db))
	require.NoError(t, CreateSchema(db))

	version, err := GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, "1", version)
}
