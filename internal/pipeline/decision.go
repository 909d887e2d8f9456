package pipeline

import "github.com/mpender/metawatch/internal/storage"

// Decision is the outcome of comparing current file state to the index.
type Decision int

const (
	DecisionSkip Decision = iota
	DecisionExtract
	DecisionRemove
)

// String returns a human-readable name for logging.
func (d Decision) String() string {
	switch d {
	case DecisionSkip:
		return "skip"
	case DecisionExtract:
		return "extract"
	case DecisionRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Decide determines whether a file needs (re-)extraction. Pure function:
//
//   - statNow == nil (file gone):   Remove if a record exists, else Skip.
//   - existing == nil (new file):   Extract.
//   - size or mtime differ:         Extract.
//   - otherwise:                    Skip.
//
// A file that changes again during its own extraction is handled by the
// worker's pre-commit re-stat, not here.
func Decide(statNow *FileStat, existing *storage.Record) Decision {
	if statNow == nil {
		if existing != nil {
			return DecisionRemove
		}
		return DecisionSkip
	}

	if existing == nil {
		return DecisionExtract
	}

	if statNow.SizeBytes != existing.SizeBytes || !statNow.ModTime.Equal(existing.ModTime) {
		return DecisionExtract
	}

	return DecisionSkip
}
