// Package watcher provides the fsnotify-backed filesystem watch adapter.
// It maps OS change notifications to pipeline change events; debouncing and
// coalescing live in the pipeline's event queue, not here.
package watcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mpender/metawatch/internal/pipeline"
)

// FSWatcher implements pipeline.FilesystemWatcher over fsnotify. It watches
// the monitored root recursively and adds newly created directories on the
// fly. The OS watch is run-scoped: Start acquires it, Stop releases it, and
// the cycle may repeat.
type FSWatcher struct {
	rootDir  string
	admitDir func(path string) bool

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// NewFSWatcher creates a watcher for rootDir. admitDir decides which
// directories join the watch set (ignore rules); nil admits everything.
func NewFSWatcher(rootDir string, admitDir func(path string) bool) (*FSWatcher, error) {
	info, err := os.Stat(rootDir)
	if err != nil {
		return nil, fmt.Errorf("cannot watch %s: %w", rootDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("cannot watch %s: not a directory", rootDir)
	}

	if admitDir == nil {
		admitDir = func(string) bool { return true }
	}

	return &FSWatcher{
		rootDir:  rootDir,
		admitDir: admitDir,
	}, nil
}

// Start acquires the OS watch and begins delivering events to emit until Stop
// or context cancellation.
func (fw *FSWatcher) Start(ctx context.Context, emit func(pipeline.ChangeEvent)) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.watcher != nil {
		return fmt.Errorf("watcher for %s already started", fw.rootDir)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.addDirectoriesRecursively(w, fw.rootDir); err != nil {
		w.Close()
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	fw.watcher = w
	fw.cancel = cancel
	fw.doneCh = make(chan struct{})

	go fw.watch(watchCtx, w, fw.doneCh, emit)
	return nil
}

// Stop stops event delivery and releases the OS watch. Idempotent; the
// watcher may be started again afterwards.
func (fw *FSWatcher) Stop() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.watcher == nil {
		return nil
	}

	fw.cancel()
	<-fw.doneCh
	err := fw.watcher.Close()
	fw.watcher = nil
	return err
}

// watch is the event loop on the dedicated watch goroutine.
func (fw *FSWatcher) watch(ctx context.Context, w *fsnotify.Watcher, doneCh chan struct{}, emit func(pipeline.ChangeEvent)) {
	defer close(doneCh)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}

			// New directories join the watch set immediately so events under
			// them are not missed.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if fw.admitDir(event.Name) {
						if err := fw.addDirectoriesRecursively(w, event.Name); err != nil {
							log.Printf("Warning: failed to watch new directory %s: %v", event.Name, err)
						}
					}
					continue
				}
			}

			kind, ok := mapEventKind(event.Op)
			if !ok {
				continue
			}

			emit(pipeline.ChangeEvent{
				Path:       event.Name,
				Kind:       kind,
				ObservedAt: time.Now(),
			})

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Printf("File watcher error: %v", err)
		}
	}
}

// mapEventKind converts an fsnotify op to an event kind. Chmod-only events
// carry no content change and are dropped.
func mapEventKind(op fsnotify.Op) (pipeline.EventKind, bool) {
	switch {
	case op&fsnotify.Remove != 0:
		return pipeline.KindDeleted, true
	case op&fsnotify.Rename != 0:
		return pipeline.KindRenamed, true
	case op&fsnotify.Create != 0:
		return pipeline.KindCreated, true
	case op&fsnotify.Write != 0:
		return pipeline.KindModified, true
	default:
		return 0, false
	}
}

// addDirectoriesRecursively adds all admitted directories in the tree to the
// watcher.
func (fw *FSWatcher) addDirectoriesRecursively(w *fsnotify.Watcher, rootPath string) error {
	return filepath.Walk(rootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// The root must be watchable; subdirectory errors are logged and
			// skipped so one bad directory does not kill the whole watch.
			if path == rootPath {
				return err
			}
			log.Printf("Warning: error accessing %s: %v", path, err)
			return nil
		}

		if !info.IsDir() {
			return nil
		}

		if !fw.admitDir(path) {
			return filepath.SkipDir
		}

		if err := w.Add(path); err != nil {
			log.Printf("Warning: failed to watch directory %s: %v", path, err)
			return nil
		}

		return nil
	})
}
