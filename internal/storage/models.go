package storage

import (
	"encoding/json"
	"time"
)

// Record is one indexed file's durable state: the stat observed at extraction
// time, an optional content fingerprint, and the opaque metadata payload the
// extractor produced. The pipeline never inspects Metadata.
type Record struct {
	Path        string // Relative to the monitored root
	SizeBytes   int64
	ModTime     time.Time
	Fingerprint string // SHA-256 of content, may be empty
	Metadata    json.RawMessage
	ExtractedAt time.Time
}
