package storage

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// RecordWriter handles durable single-record mutations against SQLite.
// Every mutation runs in its own transaction: callers may treat a returned
// nil as "committed to disk".
type RecordWriter struct {
	db *sql.DB
}

// NewRecordWriter creates a RecordWriter instance.
// DB must have schema already created via CreateSchema().
func NewRecordWriter(db *sql.DB) *RecordWriter {
	return &RecordWriter{db: db}
}

// Upsert writes or replaces a single record inside a transaction.
func (w *RecordWriter) Upsert(rec *Record) error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Safe to call even after commit

	metadata := rec.Metadata
	if metadata == nil {
		metadata = []byte("{}")
	}

	_, err = sq.Insert("records").
		Columns("file_path", "size_bytes", "mtime", "fingerprint", "metadata", "extracted_at").
		Values(
			rec.Path,
			rec.SizeBytes,
			rec.ModTime.Format(time.RFC3339Nano),
			rec.Fingerprint,
			string(metadata),
			rec.ExtractedAt.Format(time.RFC3339Nano),
		).
		Options("OR REPLACE").
		RunWith(tx).
		Exec()
	if err != nil {
		return fmt.Errorf("failed to write record for %s: %w", rec.Path, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit record for %s: %w", rec.Path, err)
	}

	return nil
}

// Delete removes a file's record inside a transaction.
// Deleting a path with no record is not an error.
func (w *RecordWriter) Delete(path string) error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = sq.Delete("records").
		Where(sq.Eq{"file_path": path}).
		RunWith(tx).
		Exec()
	if err != nil {
		return fmt.Errorf("failed to delete record for %s: %w", path, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete for %s: %w", path, err)
	}

	return nil
}
