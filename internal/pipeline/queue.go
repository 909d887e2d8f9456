package pipeline

import (
	"sort"
	"sync"
	"time"
)

// pendingEntry tracks the debounce state for one path. At most one entry per
// path exists in the queue at any time; later events for the same path
// overwrite the kind and refresh the last-seen timestamp (coalescing).
type pendingEntry struct {
	path       string
	firstSeen  time.Time
	lastSeen   time.Time
	latestKind EventKind
}

// EventQueue is the thread-safe, deduplicating, debounced queue of pending
// file paths. It is the only structure shared between the watch thread and
// the controller's dispatch loop; every critical section is insert/remove
// only, with no blocking calls under the lock.
type EventQueue struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
	maxSize int

	// leased counts paths removed by DequeueReady whose dispatch has not been
	// acknowledged with Release yet. Outstanding includes them, so a path in
	// the dispatch handoff still shows as pending work.
	leased int

	// now is replaceable in tests to exercise debounce windows without sleeping.
	now func() time.Time
}

// NewEventQueue creates a queue holding at most maxSize pending paths.
// maxSize <= 0 means unbounded.
func NewEventQueue(maxSize int) *EventQueue {
	return &EventQueue{
		entries: make(map[string]*pendingEntry),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Enqueue admits an event. If the path already has a pending entry the event
// coalesces into it: lastSeen is refreshed and the kind overwritten, so rapid
// successive edits collapse into one unit of work. Returns false when the
// queue is full and the event was not admitted (admission backpressure).
func (q *EventQueue) Enqueue(ev ChangeEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	if entry, ok := q.entries[ev.Path]; ok {
		entry.lastSeen = now
		entry.latestKind = ev.Kind
		return true
	}

	if q.maxSize > 0 && len(q.entries) >= q.maxSize {
		return false
	}

	q.entries[ev.Path] = &pendingEntry{
		path:       ev.Path,
		firstSeen:  now,
		lastSeen:   now,
		latestKind: ev.Kind,
	}
	return true
}

// DequeueReady atomically removes and returns every path that has been quiet
// for at least debounceWindow, or that has been pending for at least maxDelay
// regardless of activity. The max-delay clause guarantees a continuously
// modified path is never starved. Results are ordered by ascending firstSeen
// (oldest pending work first).
func (q *EventQueue) DequeueReady(debounceWindow, maxDelay time.Duration) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var ready []*pendingEntry
	for _, entry := range q.entries {
		if now.Sub(entry.lastSeen) >= debounceWindow || now.Sub(entry.firstSeen) >= maxDelay {
			ready = append(ready, entry)
		}
	}

	if len(ready) == 0 {
		return nil
	}

	sort.Slice(ready, func(i, j int) bool {
		return ready[i].firstSeen.Before(ready[j].firstSeen)
	})

	paths := make([]string, len(ready))
	for i, entry := range ready {
		paths[i] = entry.path
		delete(q.entries, entry.path)
	}
	q.leased += len(paths)
	return paths
}

// Release acknowledges that n dequeued paths have been handed to the pool.
func (q *EventQueue) Release(n int) {
	q.mu.Lock()
	q.leased -= n
	q.mu.Unlock()
}

// Len returns the number of pending paths.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Outstanding returns pending paths plus dequeued-but-unreleased ones. Drain
// checks use this so work in flight between queue and pool is not missed.
func (q *EventQueue) Outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries) + q.leased
}

// Pending reports whether path currently has a pending entry, along with the
// kind of its most recent event.
func (q *EventQueue) Pending(path string) (EventKind, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[path]
	if !ok {
		return 0, false
	}
	return entry.latestKind, true
}
