package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mpender/metawatch/internal/extract"
	"github.com/mpender/metawatch/internal/index"
)

var (
	// ErrInvalidDebounce indicates a negative debounce window.
	ErrInvalidDebounce = errors.New("invalid debounce window")

	// ErrInvalidMaxDelay indicates a max delay shorter than the debounce window.
	ErrInvalidMaxDelay = errors.New("invalid max delay")

	// ErrInvalidWorkers indicates a non-positive worker count.
	ErrInvalidWorkers = errors.New("invalid worker count")

	// ErrInvalidQueueSize indicates a non-positive queue size.
	ErrInvalidQueueSize = errors.New("invalid queue size")

	// ErrInvalidTimeout indicates a non-positive extractor timeout.
	ErrInvalidTimeout = errors.New("invalid extractor timeout")

	// ErrInvalidAttempts indicates a non-positive retry ceiling.
	ErrInvalidAttempts = errors.New("invalid retry ceiling")

	// ErrInvalidPollInterval indicates a non-positive poll interval.
	ErrInvalidPollInterval = errors.New("invalid poll interval")

	// ErrNotStopped is returned by Start when the pipeline is already running.
	ErrNotStopped = errors.New("pipeline is not stopped")

	// ErrNotRunning is returned by Stop when there is nothing to stop.
	ErrNotRunning = errors.New("pipeline is not running")
)

// State is the controller lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// String returns a human-readable name for logging.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Options is the pipeline's configuration surface. Validated at construction,
// before any goroutine starts.
type Options struct {
	DebounceWindow time.Duration // Quiet period before a path is ready
	MaxDelay       time.Duration // Liveness bound for continuously active paths
	PollInterval   time.Duration // Dispatch loop poll cadence
	Workers        int           // Fixed worker pool size
	MaxQueueSize   int           // Admission backpressure threshold
	ExtractTimeout time.Duration // Hard timeout per extractor invocation
	MaxAttempts    int           // Retry ceiling for transient failures
	BackoffBase    time.Duration // First retry delay; doubles per attempt
}

// Validate rejects configurations the pipeline cannot run with.
func (o Options) Validate() error {
	var errs []error
	if o.DebounceWindow < 0 {
		errs = append(errs, fmt.Errorf("%w: must be >= 0, got %v", ErrInvalidDebounce, o.DebounceWindow))
	}
	if o.MaxDelay < o.DebounceWindow {
		errs = append(errs, fmt.Errorf("%w: must be >= debounce window, got %v", ErrInvalidMaxDelay, o.MaxDelay))
	}
	if o.Workers <= 0 {
		errs = append(errs, fmt.Errorf("%w: must be positive, got %d", ErrInvalidWorkers, o.Workers))
	}
	if o.MaxQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: must be positive, got %d", ErrInvalidQueueSize, o.MaxQueueSize))
	}
	if o.ExtractTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: must be positive, got %v", ErrInvalidTimeout, o.ExtractTimeout))
	}
	if o.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("%w: must be positive, got %d", ErrInvalidAttempts, o.MaxAttempts))
	}
	if o.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: must be positive, got %v", ErrInvalidPollInterval, o.PollInterval))
	}
	return errors.Join(errs...)
}

// Controller owns the pipeline: it wires the watch adapter, event queue,
// worker pool, and index store, and exposes Start/Stop lifecycle hooks to the
// hosting process.
type Controller struct {
	opts      Options
	rootDir   string
	filter    *PathFilter
	queue     *EventQueue
	pool      *WorkerPool
	store     *index.Store
	watch     FilesystemWatcher // nil means no filesystem watching (one-shot scans)
	extractor extract.Extractor

	state atomic.Int32

	// Run-scoped, recreated on every Start. cancel tears down the whole run;
	// dispatchCancel stops only the dispatch loop so Stop can halt new work
	// while workers drain.
	cancel         context.CancelFunc
	dispatchCancel context.CancelFunc
	loopWg         sync.WaitGroup
}

// NewController validates opts and wires the pipeline components.
// watch may be nil for scan-only use; everything else is required.
func NewController(opts Options, rootDir string, filter *PathFilter, store *index.Store, extractor extract.Extractor, watch FilesystemWatcher) (*Controller, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline options: %w", err)
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 100 * time.Millisecond
	}

	queue := NewEventQueue(opts.MaxQueueSize)
	pool := NewWorkerPool(PoolConfig{
		Workers:        opts.Workers,
		ExtractTimeout: opts.ExtractTimeout,
		MaxAttempts:    opts.MaxAttempts,
		BackoffBase:    opts.BackoffBase,
	}, rootDir, store, extractor, queue)

	return &Controller{
		opts:      opts,
		rootDir:   rootDir,
		filter:    filter,
		queue:     queue,
		pool:      pool,
		store:     store,
		watch:     watch,
		extractor: extractor,
	}, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Store exposes the index store for the query layer.
func (c *Controller) Store() *index.Store {
	return c.store
}

// QueueLen returns the number of pending paths, including dequeued ones whose
// dispatch has not completed, for status reporting and drain checks.
func (c *Controller) QueueLen() int {
	return c.queue.Outstanding()
}

// Active returns the number of in-flight worker tasks.
func (c *Controller) Active() int64 {
	return c.pool.Active()
}

// Start transitions Stopped → Starting → Running: rebuild the in-memory map
// from the persistent store, reconcile the tree against it, start the watch
// adapter, the worker pool, and the dispatch loop. A store or watch failure
// here is fatal; the pipeline aborts with no degraded mode.
func (c *Controller) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return fmt.Errorf("%w: state is %s", ErrNotStopped, c.State())
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	dispatchCtx, dispatchCancel := context.WithCancel(runCtx)
	c.dispatchCancel = dispatchCancel

	// Rebuild memory tier to full parity before accepting any mutation.
	if err := c.store.Rebuild(runCtx); err != nil {
		cancel()
		c.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to rebuild index from persistent store: %w", err)
	}
	log.Printf("Index rebuilt: %d record(s)", c.store.Len())

	// Catch up on changes that happened while we were not watching.
	if err := c.reconcile(runCtx); err != nil {
		cancel()
		c.state.Store(int32(StateStopped))
		return fmt.Errorf("startup reconcile failed: %w", err)
	}

	if c.watch != nil {
		if err := c.watch.Start(runCtx, c.handleEvent); err != nil {
			cancel()
			c.state.Store(int32(StateStopped))
			return fmt.Errorf("failed to establish filesystem watch: %w", err)
		}
	}

	c.pool.Start(runCtx)

	c.loopWg.Add(1)
	go c.dispatchLoop(dispatchCtx)

	c.state.Store(int32(StateRunning))
	log.Printf("Pipeline running (workers=%d, debounce=%v, max_delay=%v)",
		c.opts.Workers, c.opts.DebounceWindow, c.opts.MaxDelay)
	return nil
}

// Stop transitions Running → Stopping → Stopped: stop accepting filesystem
// events, halt dispatch, then drain in-flight workers up to the grace
// deadline. Tasks that miss the deadline are abandoned by cancelling the run
// context, so Stop's total time is bounded by the grace period even when
// workers sit in retry backoff; the durable-first commit protocol means
// abandonment cannot corrupt the store.
func (c *Controller) Stop(grace time.Duration) error {
	if !c.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return fmt.Errorf("%w: state is %s", ErrNotRunning, c.State())
	}

	if c.watch != nil {
		if err := c.watch.Stop(); err != nil {
			log.Printf("Warning: watch adapter stop failed: %v", err)
		}
	}

	// Halt dispatch before closing the pool's input channel. The cancel also
	// unblocks a dispatcher waiting on a fully busy pool.
	c.dispatchCancel()
	c.loopWg.Wait()
	c.pool.Close()

	done := make(chan struct{})
	go func() {
		if err := c.pool.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Warning: worker pool exited with error: %v", err)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		log.Printf("Warning: grace deadline elapsed, abandoning %d in-flight task(s)", c.pool.Active())
	}

	c.cancel()
	c.state.Store(int32(StateStopped))
	log.Printf("Pipeline stopped")
	return nil
}

// handleEvent is the watch-thread entry point: filter, then admit to the
// queue. A full queue drops the event with a warning; that is the admission
// backpressure point.
func (c *Controller) handleEvent(ev ChangeEvent) {
	if !c.filter.Admit(ev.Path) {
		return
	}
	if !c.queue.Enqueue(ev) {
		log.Printf("Warning: event queue full, dropping %s event for %s", ev.Kind, ev.Path)
	}
}

// dispatchLoop polls the queue on a fixed interval and hands ready paths to
// the worker pool. Dispatch blocks when all workers are busy.
func (c *Controller) dispatchLoop(ctx context.Context) {
	defer c.loopWg.Done()

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, path := range c.queue.DequeueReady(c.opts.DebounceWindow, c.opts.MaxDelay) {
				err := c.pool.Dispatch(ctx, path)
				c.queue.Release(1)
				if err != nil {
					return // Context cancelled mid-dispatch
				}
			}
		}
	}
}

// reconcile walks the monitored tree and enqueues every admitted file that is
// new or differs from its stored record, plus a deletion event for every
// record whose file is gone. This catches mutations made while the pipeline
// was down.
func (c *Controller) reconcile(ctx context.Context) error {
	seen := make(map[string]bool)

	err := filepath.Walk(c.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == c.rootDir {
				return err
			}
			log.Printf("Warning: error accessing %s: %v", path, err)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.IsDir() {
			if !c.filter.AdmitDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !c.filter.Admit(path) {
			return nil
		}

		relPath, err := filepath.Rel(c.rootDir, path)
		if err != nil {
			return nil
		}
		seen[relPath] = true

		stat := FileStat{SizeBytes: info.Size(), ModTime: info.ModTime()}
		existing, ok := c.store.Lookup(relPath)
		if !ok {
			c.handleEvent(ChangeEvent{Path: path, Kind: KindCreated, ObservedAt: time.Now()})
		} else if stat.SizeBytes != existing.SizeBytes || !stat.ModTime.Equal(existing.ModTime) {
			c.handleEvent(ChangeEvent{Path: path, Kind: KindModified, ObservedAt: time.Now()})
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Records whose files vanished while we were down.
	for _, rec := range c.store.Snapshot() {
		if !seen[rec.Path] {
			c.handleEvent(ChangeEvent{
				Path:       filepath.Join(c.rootDir, rec.Path),
				Kind:       KindDeleted,
				ObservedAt: time.Now(),
			})
		}
	}

	if n := c.queue.Len(); n > 0 {
		log.Printf("Reconcile queued %d path(s)", n)
	}
	return nil
}
