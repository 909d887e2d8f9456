package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// RecordReader handles reading records from SQLite.
type RecordReader struct {
	db *sql.DB
}

// NewRecordReader creates a RecordReader instance.
// DB should have schema already created.
func NewRecordReader(db *sql.DB) *RecordReader {
	return &RecordReader{db: db}
}

// Get retrieves a single record by path. Returns (nil, nil) if not found.
func (r *RecordReader) Get(path string) (*Record, error) {
	rec := &Record{}
	var mtime, extractedAt, metadata string

	err := sq.Select("file_path", "size_bytes", "mtime", "fingerprint", "metadata", "extracted_at").
		From("records").
		Where(sq.Eq{"file_path": path}).
		RunWith(r.db).
		QueryRow().
		Scan(&rec.Path, &rec.SizeBytes, &mtime, &rec.Fingerprint, &metadata, &extractedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record for %s: %w", path, err)
	}

	if err := parseRecordTimes(rec, mtime, extractedAt, metadata); err != nil {
		return nil, fmt.Errorf("failed to decode record for %s: %w", path, err)
	}

	return rec, nil
}

// All retrieves every record, ordered by path. Used for the startup
// full-scan rebuild of the in-memory tier.
func (r *RecordReader) All() ([]*Record, error) {
	rows, err := sq.Select("file_path", "size_bytes", "mtime", "fingerprint", "metadata", "extracted_at").
		From("records").
		OrderBy("file_path").
		RunWith(r.db).
		Query()
	if err != nil {
		return nil, fmt.Errorf("failed to query all records: %w", err)
	}
	defer rows.Close()

	var results []*Record
	for rows.Next() {
		rec := &Record{}
		var mtime, extractedAt, metadata string

		if err := rows.Scan(&rec.Path, &rec.SizeBytes, &mtime, &rec.Fingerprint, &metadata, &extractedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if err := parseRecordTimes(rec, mtime, extractedAt, metadata); err != nil {
			return nil, fmt.Errorf("failed to decode record for %s: %w", rec.Path, err)
		}
		results = append(results, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return results, nil
}

// Count returns the number of stored records.
func (r *RecordReader) Count() (int, error) {
	var count int
	err := sq.Select("COUNT(*)").
		From("records").
		RunWith(r.db).
		QueryRow().
		Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// parseRecordTimes decodes the string-encoded columns into the record.
func parseRecordTimes(rec *Record, mtime, extractedAt, metadata string) error {
	var err error
	if rec.ModTime, err = time.Parse(time.RFC3339Nano, mtime); err != nil {
		return fmt.Errorf("bad mtime %q: %w", mtime, err)
	}
	if rec.ExtractedAt, err = time.Parse(time.RFC3339Nano, extractedAt); err != nil {
		return fmt.Errorf("bad extracted_at %q: %w", extractedAt, err)
	}
	rec.Metadata = json.RawMessage(metadata)
	return nil
}
