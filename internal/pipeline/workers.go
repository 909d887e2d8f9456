package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mpender/metawatch/internal/extract"
	"github.com/mpender/metawatch/internal/index"
	"github.com/mpender/metawatch/internal/storage"
)

// PoolConfig sizes the worker pool and its retry policy.
type PoolConfig struct {
	Workers        int
	ExtractTimeout time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
}

// WorkerPool runs bounded-concurrency extraction work. Workers pull tasks
// from a channel fed by the controller's dispatch loop; a full pool blocks
// dispatch, which is the pipeline's backpressure mechanism.
type WorkerPool struct {
	cfg       PoolConfig
	rootDir   string
	store     *index.Store
	extractor extract.Extractor
	queue     *EventQueue

	tasks  chan WorkerTask
	g      *errgroup.Group
	active atomic.Int64
}

// NewWorkerPool creates a pool. Run-scoped state (the task channel, the
// worker group) is allocated in Start so a pool survives Close and can be
// started again.
func NewWorkerPool(cfg PoolConfig, rootDir string, store *index.Store, extractor extract.Extractor, queue *EventQueue) *WorkerPool {
	return &WorkerPool{
		cfg:       cfg,
		rootDir:   rootDir,
		store:     store,
		extractor: extractor,
		queue:     queue,
	}
}

// Start launches the fixed set of workers. Worker count is set at
// construction and never changes. The tasks channel is unbuffered: dispatch
// hands work directly to an idle worker or waits for one.
func (p *WorkerPool) Start(ctx context.Context) {
	p.tasks = make(chan WorkerTask)

	g, gctx := errgroup.WithContext(ctx)
	p.g = g

	for i := 0; i < p.cfg.Workers; i++ {
		g.Go(func() error {
			return p.run(gctx)
		})
	}
}

// Dispatch submits a path to the pool, blocking until a worker accepts it or
// the context is cancelled. Must not be called before Start or after Close.
// The path counts as active from here on, so a task mid-handoff is never
// invisible to both the queue and the active counter.
func (p *WorkerPool) Dispatch(ctx context.Context, path string) error {
	task := WorkerTask{
		ID:         uuid.NewString(),
		Path:       path,
		Attempt:    1,
		EnqueuedAt: time.Now(),
	}

	p.active.Add(1)
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		p.active.Add(-1)
		return ctx.Err()
	}
}

// Close stops accepting new tasks. Workers drain and exit once the channel
// is empty. Dispatch must not be called after Close.
func (p *WorkerPool) Close() {
	close(p.tasks)
}

// Wait blocks until all workers have exited.
func (p *WorkerPool) Wait() error {
	if p.g == nil {
		return nil
	}
	return p.g.Wait()
}

// Active returns the number of dispatched tasks not yet finished, including
// tasks still in the handoff to a worker.
func (p *WorkerPool) Active() int64 {
	return p.active.Load()
}

// run is one worker's loop: blocking receive, process, repeat until the
// channel closes or the context is cancelled.
func (p *WorkerPool) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task, ok := <-p.tasks:
			if !ok {
				return nil
			}
			p.process(ctx, task)
			p.active.Add(-1)
		}
	}
}

// process handles one task with retry. Transient failures (extractor error,
// extractor timeout, durable write failure) back off exponentially up to the
// attempt ceiling, then the path is dropped with a warning; it will be
// reconsidered on the next real filesystem event. Failures never escape the
// worker that encountered them.
func (p *WorkerPool) process(ctx context.Context, task WorkerTask) {
	relPath, err := filepath.Rel(p.rootDir, task.Path)
	if err != nil {
		log.Printf("Warning: [task %s] cannot relativize %s: %v", task.ID, task.Path, err)
		return
	}

	for ; task.Attempt <= p.cfg.MaxAttempts; task.Attempt++ {
		requeued, err := p.attempt(ctx, task, relPath)
		if err == nil || requeued {
			return
		}
		if ctx.Err() != nil {
			return
		}

		if task.Attempt < p.cfg.MaxAttempts {
			backoff := p.cfg.BackoffBase << (task.Attempt - 1)
			log.Printf("Warning: [task %s] attempt %d/%d failed for %s: %v (retrying in %v)",
				task.ID, task.Attempt, p.cfg.MaxAttempts, relPath, err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
		} else {
			log.Printf("Warning: [task %s] giving up on %s after %d attempts: %v",
				task.ID, relPath, p.cfg.MaxAttempts, err)
		}
	}
}

// attempt is a single pass over the stat → decide → extract → commit chain.
// Returns requeued=true when the task was re-enqueued because the file
// changed mid-extraction; that is not an error. A returned error is
// transient-retryable.
func (p *WorkerPool) attempt(ctx context.Context, task WorkerTask, relPath string) (requeued bool, err error) {
	statNow, err := statFile(task.Path)
	if err != nil {
		return false, err
	}

	var existing *storage.Record
	if rec, ok := p.store.Lookup(relPath); ok {
		existing = &rec
	}

	switch Decide(statNow, existing) {
	case DecisionSkip:
		return false, nil

	case DecisionRemove:
		if err := p.store.Remove(relPath); err != nil {
			return false, err
		}
		log.Printf("[task %s] removed %s", task.ID, relPath)
		return false, nil

	case DecisionExtract:
		return p.extract(ctx, task, relPath, *statNow, existing)
	}

	return false, nil
}

// extract runs the extractor and commits the result, re-checking the stat
// immediately before commit. A stat mismatch discards the result and
// re-enqueues the path rather than committing stale metadata.
func (p *WorkerPool) extract(ctx context.Context, task WorkerTask, relPath string, statAtStart FileStat, existing *storage.Record) (bool, error) {
	content, err := os.ReadFile(task.Path)
	if err != nil {
		if os.IsNotExist(err) {
			// Deleted between stat and read; the deletion event will follow.
			return p.requeue(task), nil
		}
		return false, err
	}

	hash := sha256.Sum256(content)
	fingerprint := hex.EncodeToString(hash[:])

	// Stat drifted but content did not (touch, checkout churn): refresh the
	// stored stat without re-running the extractor.
	if existing != nil && existing.Fingerprint == fingerprint {
		rec := *existing
		rec.SizeBytes = statAtStart.SizeBytes
		rec.ModTime = statAtStart.ModTime
		if err := p.store.Commit(&rec); err != nil {
			return false, err
		}
		return false, nil
	}

	extractCtx, cancel := context.WithTimeout(ctx, p.cfg.ExtractTimeout)
	metadata, err := p.extractor.Extract(extractCtx, task.Path, content)
	cancel()
	if err != nil {
		return false, err
	}

	// Re-stat before commit: if the file moved on while we were extracting,
	// the result is stale and must not be committed.
	statAfter, err := statFile(task.Path)
	if err != nil {
		return false, err
	}
	if statAfter == nil || !statAfter.Equal(statAtStart) {
		return p.requeue(task), nil
	}

	rec := &storage.Record{
		Path:        relPath,
		SizeBytes:   statAtStart.SizeBytes,
		ModTime:     statAtStart.ModTime,
		Fingerprint: fingerprint,
		Metadata:    metadata,
		ExtractedAt: time.Now().UTC(),
	}
	if err := p.store.Commit(rec); err != nil {
		return false, err
	}

	return false, nil
}

// requeue puts the task's path back into the event queue. Always returns true
// so callers can propagate the requeued outcome; a full queue only costs an
// extraction that the next event would trigger anyway.
func (p *WorkerPool) requeue(task WorkerTask) bool {
	if !p.queue.Enqueue(ChangeEvent{Path: task.Path, Kind: KindModified, ObservedAt: time.Now()}) {
		log.Printf("Warning: [task %s] queue full, dropping requeue for %s", task.ID, task.Path)
		return true
	}
	log.Printf("[task %s] %s changed mid-extraction, re-enqueued", task.ID, task.Path)
	return true
}

// statFile returns the current FileStat, or nil when the file no longer
// exists. Any other stat failure is transient.
func statFile(path string) (*FileStat, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, nil
	}
	return &FileStat{SizeBytes: info.Size(), ModTime: info.ModTime()}, nil
}
