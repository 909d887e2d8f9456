package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

// MockExtractor is a configurable test implementation. By default it produces
// a deterministic payload derived from the content hash; Fn overrides the
// whole behavior, Delay simulates extraction latency, and Err forces failure.
type MockExtractor struct {
	Fn    func(ctx context.Context, path string, content []byte) (json.RawMessage, error)
	Delay time.Duration
	Err   error

	calls atomic.Int64
}

// NewMockExtractor creates a mock extractor with deterministic output.
func NewMockExtractor() *MockExtractor {
	return &MockExtractor{}
}

// Extract implements Extractor.
func (m *MockExtractor) Extract(ctx context.Context, path string, content []byte) (json.RawMessage, error) {
	m.calls.Add(1)

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.Fn != nil {
		return m.Fn(ctx, path, content)
	}

	if m.Err != nil {
		return nil, m.Err
	}

	hash := sha256.Sum256(content)
	payload := fmt.Sprintf(`{"path":%q,"content_hash":%q}`, path, hex.EncodeToString(hash[:]))
	return json.RawMessage(payload), nil
}

// Calls returns how many times Extract has been invoked.
func (m *MockExtractor) Calls() int64 {
	return m.calls.Load()
}
