package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpender/metawatch/internal/extract"
	"github.com/mpender/metawatch/internal/index"
	"github.com/mpender/metawatch/internal/storage"
)

// TEST PLAN: WorkerPool Component
//
// Workers pull paths from the dispatch channel, re-check file state, run the
// extractor, and commit results durable-first.
//
// Test Cases:
// 1. Successful extraction commits a record with the observed stat.
// 2. Concurrency is bounded by the fixed worker count.
// 3. Extractor failure retries up to the ceiling, then the path is dropped
//    with no record.
// 4. Extractor timeout is treated as a failure (retry-then-drop).
// 5. A file modified during its own extraction is re-enqueued and the stale
//    result is never committed.
// 6. A deleted file's record is removed.
// 7. Identical content produces identical records (idempotence).
// 8. Fingerprint match refreshes the stored stat without re-extraction.

func newTestPool(t *testing.T, rootDir string, cfg PoolConfig, ex extract.Extractor) (*WorkerPool, *index.Store, *EventQueue) {
	t.Helper()

	db := storage.NewTestDB(t)
	store := index.NewStore(db)
	queue := NewEventQueue(100)
	pool := NewWorkerPool(cfg, rootDir, store, ex, queue)
	return pool, store, queue
}

func defaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:        2,
		ExtractTimeout: 5 * time.Second,
		MaxAttempts:    3,
		BackoffBase:    time.Millisecond,
	}
}

// runPool dispatches the given paths, then drains and waits for the pool.
func runPool(t *testing.T, pool *WorkerPool, paths ...string) {
	t.Helper()

	ctx := context.Background()
	pool.Start(ctx)
	for _, p := range paths {
		require.NoError(t, pool.Dispatch(ctx, p))
	}
	pool.Close()
	require.NoError(t, pool.Wait())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWorkerPool_CommitsRecord(t *testing.T) {
	t.Parallel()

	rootDir := t.TempDir()
	file := filepath.Join(rootDir, "a.go")
	writeFile(t, file, "package a\n")

	pool, store, _ := newTestPool(t, rootDir, defaultPoolConfig(), extract.NewMockExtractor())
	runPool(t, pool, file)

	rec, ok := store.Lookup("a.go")
	require.True(t, ok)

	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), rec.SizeBytes)
	assert.True(t, info.ModTime().Equal(rec.ModTime))
	assert.NotEmpty(t, rec.Fingerprint)
	assert.NotEmpty(t, rec.Metadata)
	assert.False(t, rec.ExtractedAt.IsZero())
}

func TestWorkerPool_RestartAfterClose(t *testing.T) {
	t.Parallel()

	rootDir := t.TempDir()
	first := filepath.Join(rootDir, "first.go")
	second := filepath.Join(rootDir, "second.go")
	writeFile(t, first, "package first\n")
	writeFile(t, second, "package second\n")

	pool, store, _ := newTestPool(t, rootDir, defaultPoolConfig(), extract.NewMockExtractor())

	runPool(t, pool, first)
	_, ok := store.Lookup("first.go")
	require.True(t, ok)

	// The same pool must accept work again after Close and Wait.
	runPool(t, pool, second)
	_, ok = store.Lookup("second.go")
	assert.True(t, ok)
	assert.Equal(t, 2, store.Len())
}

func TestWorkerPool_BoundedConcurrency(t *testing.T) {
	t.Parallel()

	rootDir := t.TempDir()
	paths := make([]string, 3)
	for i, name := range []string{"a.go", "b.go", "c.go"} {
		paths[i] = filepath.Join(rootDir, name)
		writeFile(t, paths[i], "package x\n")
	}

	var inFlight, maxInFlight atomic.Int64
	ex := extract.NewMockExtractor()
	ex.Fn = func(ctx context.Context, path string, content []byte) (json.RawMessage, error) {
		cur := inFlight.Add(1)
		for {
			max := maxInFlight.Load()
			if cur <= max || maxInFlight.CompareAndSwap(max, cur) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		inFlight.Add(-1)
		return json.RawMessage(`{}`), nil
	}

	pool, store, _ := newTestPool(t, rootDir, defaultPoolConfig(), ex)

	ctx := context.Background()
	pool.Start(ctx)

	var wg sync.WaitGroup
	for _, p := range paths {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			assert.NoError(t, pool.Dispatch(ctx, p))
		}(p)
	}
	wg.Wait()
	pool.Close()
	require.NoError(t, pool.Wait())

	// Pool size 2: never more than 2 extractions in flight.
	assert.LessOrEqual(t, maxInFlight.Load(), int64(2))
	assert.Equal(t, int64(3), ex.Calls())
	assert.Equal(t, 3, store.Len())
}

func TestWorkerPool_RetryThenDrop(t *testing.T) {
	t.Parallel()

	rootDir := t.TempDir()
	file := filepath.Join(rootDir, "b.py")
	writeFile(t, file, "print('hi')\n")

	ex := extract.NewMockExtractor()
	ex.Err = errors.New("extractor exploded")

	pool, store, _ := newTestPool(t, rootDir, defaultPoolConfig(), ex)
	runPool(t, pool, file)

	// Retry ceiling 3: exactly 3 attempts, then dropped with no record.
	assert.Equal(t, int64(3), ex.Calls())
	_, ok := store.Lookup("b.py")
	assert.False(t, ok)
}

func TestWorkerPool_TimeoutIsRetryable(t *testing.T) {
	t.Parallel()

	rootDir := t.TempDir()
	file := filepath.Join(rootDir, "slow.go")
	writeFile(t, file, "package slow\n")

	ex := extract.NewMockExtractor()
	ex.Delay = time.Second // Far beyond the 10ms timeout below

	cfg := defaultPoolConfig()
	cfg.ExtractTimeout = 10 * time.Millisecond

	pool, store, _ := newTestPool(t, rootDir, cfg, ex)
	runPool(t, pool, file)

	assert.Equal(t, int64(3), ex.Calls())
	_, ok := store.Lookup("slow.go")
	assert.False(t, ok)
}

func TestWorkerPool_StaleResultRequeued(t *testing.T) {
	t.Parallel()

	rootDir := t.TempDir()
	file := filepath.Join(rootDir, "hot.go")
	writeFile(t, file, "package hot\n")

	// The extractor rewrites the file mid-extraction, so the pre-commit
	// re-stat must reject the result.
	ex := extract.NewMockExtractor()
	ex.Fn = func(ctx context.Context, path string, content []byte) (json.RawMessage, error) {
		if err := os.WriteFile(file, []byte("package hot // edited mid-extraction\n"), 0o644); err != nil {
			return nil, err
		}
		newTime := time.Now().Add(2 * time.Second)
		if err := os.Chtimes(file, newTime, newTime); err != nil {
			return nil, err
		}
		return json.RawMessage(`{"stale":true}`), nil
	}

	pool, store, queue := newTestPool(t, rootDir, defaultPoolConfig(), ex)
	runPool(t, pool, file)

	// Nothing committed; the path went back into the queue instead.
	_, ok := store.Lookup("hot.go")
	assert.False(t, ok)

	kind, pending := queue.Pending(file)
	require.True(t, pending)
	assert.Equal(t, KindModified, kind)
}

func TestWorkerPool_RemovesDeletedFile(t *testing.T) {
	t.Parallel()

	rootDir := t.TempDir()
	file := filepath.Join(rootDir, "gone.go")
	writeFile(t, file, "package gone\n")

	pool, store, _ := newTestPool(t, rootDir, defaultPoolConfig(), extract.NewMockExtractor())
	runPool(t, pool, file)
	_, ok := store.Lookup("gone.go")
	require.True(t, ok)

	require.NoError(t, os.Remove(file))

	pool2 := NewWorkerPool(defaultPoolConfig(), rootDir, store, extract.NewMockExtractor(), NewEventQueue(10))
	runPool(t, pool2, file)

	_, ok = store.Lookup("gone.go")
	assert.False(t, ok)
}

func TestWorkerPool_IdempotentExtraction(t *testing.T) {
	t.Parallel()

	rootDir := t.TempDir()
	file := filepath.Join(rootDir, "same.go")
	writeFile(t, file, "package same\n\nfunc A() {}\n")

	pool, store, _ := newTestPool(t, rootDir, defaultPoolConfig(), extract.NewBasicExtractor())
	runPool(t, pool, file)

	first, ok := store.Lookup("same.go")
	require.True(t, ok)

	// Force re-extraction of identical content.
	require.NoError(t, store.Remove("same.go"))
	pool2 := NewWorkerPool(defaultPoolConfig(), rootDir, store, extract.NewBasicExtractor(), NewEventQueue(10))
	runPool(t, pool2, file)

	second, ok := store.Lookup("same.go")
	require.True(t, ok)

	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.JSONEq(t, string(first.Metadata), string(second.Metadata))
	assert.Equal(t, first.SizeBytes, second.SizeBytes)
	assert.True(t, first.ModTime.Equal(second.ModTime))
}

func TestWorkerPool_FingerprintMatchSkipsExtractor(t *testing.T) {
	t.Parallel()

	rootDir := t.TempDir()
	file := filepath.Join(rootDir, "touched.go")
	writeFile(t, file, "package touched\n")

	ex := extract.NewMockExtractor()
	pool, store, _ := newTestPool(t, rootDir, defaultPoolConfig(), ex)
	runPool(t, pool, file)
	require.Equal(t, int64(1), ex.Calls())

	original, ok := store.Lookup("touched.go")
	require.True(t, ok)

	// Touch: new mtime, same content.
	newTime := time.Now().Add(5 * time.Second)
	require.NoError(t, os.Chtimes(file, newTime, newTime))

	pool2 := NewWorkerPool(defaultPoolConfig(), rootDir, store, ex, NewEventQueue(10))
	runPool(t, pool2, file)

	// No second extraction; stat refreshed, metadata untouched.
	assert.Equal(t, int64(1), ex.Calls())
	updated, ok := store.Lookup("touched.go")
	require.True(t, ok)
	assert.True(t, updated.ModTime.Equal(newTime))
	assert.JSONEq(t, string(original.Metadata), string(updated.Metadata))
}
