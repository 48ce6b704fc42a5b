// Package watch turns inotify change notifications into directory reads.
//
// A Watcher follows the forest: it watches every directory the forest
// creates and drops the watch when the directory is destroyed. Each change
// below a watched directory becomes a delayed read request for it, so bursts
// of changes collapse into one scan.
package watch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/wisnuc/appifi-sub000/internal/logger"
)

// Notifier is the part of the forest the watcher drives.
type Notifier interface {
	NotifyPath(ctx context.Context, path string, delay time.Duration) error
}

type op struct {
	add  bool
	path string
}

// Watcher bridges fsnotify and a Notifier. It implements
// vfs.DirectoryObserver.
type Watcher struct {
	notifier Notifier
	debounce time.Duration
	fsw      *fsnotify.Watcher

	mu   sync.Mutex
	ops  []op
	wake chan struct{}
}

// New creates a watcher. debounce is the read delay requested per event.
func New(debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		debounce: debounce,
		fsw:      fsw,
		wake:     make(chan struct{}, 1),
	}, nil
}

// DirectoryCreated queues a watch on path. It never blocks.
func (w *Watcher) DirectoryCreated(_ uuid.UUID, path string) { w.queue(op{add: true, path: path}) }

// DirectoryDestroyed queues removal of the watch on path. It never blocks.
func (w *Watcher) DirectoryDestroyed(_ uuid.UUID, path string) { w.queue(op{path: path}) }

func (w *Watcher) queue(o op) {
	w.mu.Lock()
	w.ops = append(w.ops, o)
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run applies queued watch changes and forwards events to notifier until
// ctx is cancelled. It closes the underlying watcher on return.
func (w *Watcher) Run(ctx context.Context, notifier Notifier) error {
	defer w.fsw.Close()
	w.notifier = notifier
	logger.Info("watch: running (debounce %s)", w.debounce)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.wake:
			w.applyOps()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				logger.Warn("watch: event queue overflowed, changes may be missed")
				continue
			}
			logger.Warn("watch: %v", err)
		}
	}
}

func (w *Watcher) applyOps() {
	w.mu.Lock()
	batch := w.ops
	w.ops = nil
	w.mu.Unlock()

	for _, o := range batch {
		if o.add {
			if err := w.fsw.Add(o.path); err != nil {
				logger.Debug("watch: add %s: %v", o.path, err)
			}
			continue
		}
		// the kernel already dropped watches on removed directories
		if err := w.fsw.Remove(o.path); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
			logger.Debug("watch: remove %s: %v", o.path, err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	// attribute changes include our own identity xattr writes
	if ev.Op == fsnotify.Chmod {
		return
	}
	dir := filepath.Dir(ev.Name)
	if err := w.notifier.NotifyPath(ctx, dir, w.debounce); err != nil && ctx.Err() == nil {
		logger.Debug("watch: notify %s: %v", dir, err)
	}
}

// Watched lists the paths currently watched.
func (w *Watcher) Watched() []string {
	return w.fsw.WatchList()
}
