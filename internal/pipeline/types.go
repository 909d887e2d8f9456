package pipeline

import (
	"context"
	"time"
)

// EventKind classifies a filesystem change event.
type EventKind int

const (
	KindCreated EventKind = iota
	KindModified
	KindDeleted
	KindRenamed
)

// String returns a human-readable name for logging.
func (k EventKind) String() string {
	switch k {
	case KindCreated:
		return "created"
	case KindModified:
		return "modified"
	case KindDeleted:
		return "deleted"
	case KindRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// ChangeEvent is a single filesystem mutation as reported by the watch adapter.
// Events are consumed by the EventQueue and discarded once admitted or superseded.
type ChangeEvent struct {
	Path       string    // Absolute file path
	Kind       EventKind // Most recent operation observed for the path
	ObservedAt time.Time // When the watch adapter saw the event
}

// FileStat is the subset of file metadata used for change decisions.
type FileStat struct {
	SizeBytes int64
	ModTime   time.Time
}

// Equal reports whether two stats describe the same file state.
func (s FileStat) Equal(o FileStat) bool {
	return s.SizeBytes == o.SizeBytes && s.ModTime.Equal(o.ModTime)
}

// WorkerTask is a unit of work owned by a single worker. Never persisted.
type WorkerTask struct {
	ID         string // For correlating log lines
	Path       string
	Attempt    int
	EnqueuedAt time.Time
}

// FilesystemWatcher is the capability interface for platform change notification.
// Implementations must deliver create/modify/delete/rename events for the
// monitored tree at least once. One implementation per platform mechanism,
// selected at construction.
type FilesystemWatcher interface {
	// Start begins delivering events to emit until the context is cancelled
	// or Stop is called. emit must not block for long periods.
	Start(ctx context.Context, emit func(ChangeEvent)) error

	// Stop stops event delivery and releases watch resources.
	Stop() error
}
