// Package index provides the two-tier record store: a read-mostly in-memory
// map over a durable SQLite tier. The write protocol is durable-first — the
// persistent store commits before the in-memory map is touched — so the map
// is always a subset of (or equal to) what is durably committed, never ahead
// of it.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/mpender/metawatch/internal/storage"
)

// Writer is the durable mutation surface the store commits through.
// *storage.RecordWriter satisfies it; tests substitute failing doubles.
type Writer interface {
	Upsert(rec *storage.Record) error
	Delete(path string) error
}

// Reader is the durable read surface used for the startup rebuild.
type Reader interface {
	All() ([]*storage.Record, error)
}

// Store keeps the in-memory map consistent with the durable tier under
// concurrent worker commits. Per-path mutations are serialized so two workers
// can never race conflicting records for the same path; reads of different
// paths proceed unimpeded under the read lock.
type Store struct {
	writer Writer
	reader Reader

	mu      sync.RWMutex
	records map[string]*storage.Record

	// pathLocks serializes writers per path. Entries are never removed; the
	// set of paths is bounded by the monitored tree.
	pathLocks sync.Map // map[string]*sync.Mutex
}

// NewStore creates a Store over an opened index database.
// The map starts empty; call Rebuild before serving lookups.
func NewStore(db *sql.DB) *Store {
	return NewStoreWith(storage.NewRecordWriter(db), storage.NewRecordReader(db))
}

// NewStoreWith creates a Store with explicit durable tiers.
func NewStoreWith(writer Writer, reader Reader) *Store {
	return &Store{
		writer:  writer,
		reader:  reader,
		records: make(map[string]*storage.Record),
	}
}

// Rebuild repopulates the in-memory map with a full scan of the durable
// store. Must complete before the pipeline dispatches any work, so the map
// reaches full parity before any new mutation is accepted.
func (s *Store) Rebuild(ctx context.Context) error {
	all, err := s.reader.All()
	if err != nil {
		return fmt.Errorf("failed to scan persistent store: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	records := make(map[string]*storage.Record, len(all))
	for _, rec := range all {
		records[rec.Path] = rec
	}

	s.mu.Lock()
	s.records = records
	s.mu.Unlock()

	return nil
}

// Lookup returns the record for path from the in-memory map. O(1).
func (s *Store) Lookup(path string) (storage.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[path]
	if !ok {
		return storage.Record{}, false
	}
	return *rec, true
}

// Snapshot returns a copy of every record for bulk consumers.
func (s *Store) Snapshot() []storage.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	return out
}

// Len returns the number of records in the in-memory map.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Commit durably upserts rec, then reflects it in the in-memory map.
// If the durable commit fails the map is left untouched and the error is
// returned for the caller's retry policy.
func (s *Store) Commit(rec *storage.Record) error {
	unlock := s.lockPath(rec.Path)
	defer unlock()

	if err := s.writer.Upsert(rec); err != nil {
		return err
	}

	recCopy := *rec
	s.mu.Lock()
	s.records[rec.Path] = &recCopy
	s.mu.Unlock()

	return nil
}

// Remove durably deletes the record for path, then drops it from the
// in-memory map. Same durable-first ordering as Commit.
func (s *Store) Remove(path string) error {
	unlock := s.lockPath(path)
	defer unlock()

	if err := s.writer.Delete(path); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.records, path)
	s.mu.Unlock()

	return nil
}

// lockPath acquires the per-path write lock and returns its release func.
func (s *Store) lockPath(path string) func() {
	v, _ := s.pathLocks.LoadOrStore(path, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
