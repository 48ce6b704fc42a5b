package watch

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisnuc/appifi-sub000/internal/testutil"
	"github.com/wisnuc/appifi-sub000/pkg/vfs"
)

type fakeNotifier struct {
	mu    sync.Mutex
	paths []string
}

func (n *fakeNotifier) NotifyPath(_ context.Context, path string, _ time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
	return nil
}

func (n *fakeNotifier) seen(path string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Contains(n.paths, path)
}

func runWatcher(t *testing.T, w *Watcher, n Notifier) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, n) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func TestWatcherForwardsEvents(t *testing.T) {
	n := &fakeNotifier{}
	w, err := New(10 * time.Millisecond)
	require.NoError(t, err)
	runWatcher(t, w, n)

	dir := t.TempDir()
	w.DirectoryCreated(uuid.New(), dir)
	require.Eventually(t, func() bool {
		return slices.Contains(w.Watched(), dir)
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x"), 0o644))
	require.Eventually(t, func() bool { return n.seen(dir) }, 5*time.Second, 10*time.Millisecond)

	w.DirectoryDestroyed(uuid.New(), dir)
	require.Eventually(t, func() bool {
		return !slices.Contains(w.Watched(), dir)
	}, 5*time.Second, 10*time.Millisecond)

	// removing an unknown watch is harmless
	w.DirectoryDestroyed(uuid.New(), filepath.Join(dir, "never"))
}

func TestWatcherIgnoresAttributeChanges(t *testing.T) {
	n := &fakeNotifier{}
	w, err := New(0)
	require.NoError(t, err)
	defer w.fsw.Close()
	w.notifier = n

	w.handle(context.Background(), fsnotify.Event{Name: "/d/a", Op: fsnotify.Chmod})
	assert.Empty(t, n.paths)
	w.handle(context.Background(), fsnotify.Event{Name: "/d/a", Op: fsnotify.Create})
	w.handle(context.Background(), fsnotify.Event{Name: "/d/b", Op: fsnotify.Write | fsnotify.Chmod})
	assert.Equal(t, []string{"/d", "/d"}, n.paths)
}

// The forest picks up a file created behind its back.
func TestWatcherDrivesForest(t *testing.T) {
	drives := filepath.Join(testutil.XattrDir(t), "drives")

	w, err := New(20 * time.Millisecond)
	require.NoError(t, err)
	forest := vfs.New(vfs.Options{DrivesDir: drives, RetryDelay: 20 * time.Millisecond}, vfs.WithDirectoryObserver(w))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- forest.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	runWatcher(t, w, forest)

	driveID := uuid.New()
	root, err := forest.CreateRoot(ctx, driveID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return slices.Contains(w.Watched(), root.Path)
	}, 5*time.Second, 10*time.Millisecond)

	testutil.WriteFile(t, root.Path, "later.txt", []byte("hello"))
	require.Eventually(t, func() bool {
		children, err := forest.Children(ctx, driveID)
		return err == nil && len(children) == 1 && children[0].Name == "later.txt"
	}, 5*time.Second, 10*time.Millisecond)
}
