// Package extract defines the extractor boundary: the collaborator that turns
// file content into structured metadata. The pipeline treats implementations
// as opaque — it only cares about success, failure, and timeout.
package extract

import (
	"context"
	"encoding/json"
)

// Extractor produces structured metadata for a file. Implementations may take
// seconds and must honor context cancellation; the pipeline applies a hard
// timeout per invocation. A remote RPC, a model call, or a local parser can
// all sit behind this interface without the pipeline changing.
type Extractor interface {
	Extract(ctx context.Context, path string, content []byte) (json.RawMessage, error)
}
