package vfs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisnuc/appifi-sub000/internal/ratelimiter"
	"github.com/wisnuc/appifi-sub000/internal/testutil"
	"github.com/wisnuc/appifi-sub000/pkg/fingerprint"
	"github.com/wisnuc/appifi-sub000/pkg/identity"
)

var errDisk = errors.New("disk on fire")

func TestHashFailsAfterRetryBudget(t *testing.T) {
	h := newHarness(t, Options{HashRetries: 3})
	var broken atomic.Bool
	broken.Store(true)
	var calls atomic.Int64
	h.forest.fingerprint = func(ctx context.Context, path string, l *ratelimiter.ByteLimiter) (string, error) {
		calls.Add(1)
		if broken.Load() {
			return "", errDisk
		}
		return fingerprint.File(ctx, path, l)
	}

	rootID, rootPath := h.root()
	doc := testutil.WriteFile(t, rootPath, "doc.txt", []byte("doc"))
	_, err := h.forest.Read(h.ctx, rootID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.childByName(rootID, "doc.txt").State == "failed"
	}, 5*time.Second, 5*time.Millisecond)

	// failed files are left alone by the scheduler
	h.settle()
	s, err := h.forest.Stats(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.FailedFiles)
	assert.Zero(t, s.HashedFiles)
	assert.EqualValues(t, 3, calls.Load())

	broken.Store(false)
	n, err := h.forest.ResetFailedHashes(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Eventually(t, func() bool {
		return h.childByName(rootID, "doc.txt").State == "hashed"
	}, 5*time.Second, 5*time.Millisecond)
	paths, err := h.forest.FilePathsByHash(h.ctx, hashOf([]byte("doc")))
	require.NoError(t, err)
	assert.Equal(t, []string{doc}, paths)

	n, err = h.forest.ResetFailedHashes(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStaleTimestampRestartsHashing(t *testing.T) {
	// a single counted failure would be final
	h := newHarness(t, Options{HashRetries: 1})
	var calls atomic.Int64
	h.forest.fingerprint = func(ctx context.Context, path string, l *ratelimiter.ByteLimiter) (string, error) {
		if calls.Add(1) == 1 {
			// written while the first pass reads
			later := time.Now().Add(2 * time.Second)
			if err := os.Chtimes(path, later, later); err != nil {
				return "", err
			}
		}
		return fingerprint.File(ctx, path, l)
	}

	rootID, rootPath := h.root()
	testutil.WriteFile(t, rootPath, "log.txt", []byte("v1"))
	_, err := h.forest.Read(h.ctx, rootID)
	require.NoError(t, err)
	h.settle()

	assert.Equal(t, "hashed", h.childByName(rootID, "log.txt").State)
	assert.EqualValues(t, 2, calls.Load())
	s, err := h.forest.Stats(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, s.FailedFiles)
}

func TestScanBacksOffThenStalls(t *testing.T) {
	h := newHarness(t, Options{MaxScanRetries: 2})
	var broken atomic.Bool
	broken.Store(true)
	var mu sync.Mutex
	var attempts []time.Time
	h.forest.readDir = func(name string) ([]os.DirEntry, error) {
		if filepath.Base(name) == "bad" && broken.Load() {
			mu.Lock()
			attempts = append(attempts, time.Now())
			mu.Unlock()
			return nil, errDisk
		}
		return os.ReadDir(name)
	}
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(attempts)
	}

	rootID, rootPath := h.root()
	testutil.Mkdir(t, rootPath, "bad")
	_, err := h.forest.Read(h.ctx, rootID)
	require.NoError(t, err)
	bad := h.childByName(rootID, "bad")

	// the first scan and two retries
	require.Eventually(t, func() bool { return count() == 3 }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(5 * h.forest.opts.RetryDelay)
	assert.Equal(t, 3, count())

	mu.Lock()
	for i := 1; i < len(attempts); i++ {
		assert.GreaterOrEqual(t, attempts[i].Sub(attempts[i-1]), h.forest.opts.RetryDelay)
	}
	mu.Unlock()

	info, err := h.forest.DirectoryByID(h.ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, "pending", info.State)
	s, err := h.forest.Stats(h.ctx)
	require.NoError(t, err)
	assert.False(t, s.Settled())

	// an explicit read picks a stalled directory up again
	broken.Store(false)
	testutil.WriteFile(t, rootPath, "bad/ok.txt", []byte("ok"))
	listing, err := h.forest.Read(h.ctx, bad.ID)
	require.NoError(t, err)
	require.Len(t, listing, 1)
	assert.Equal(t, "ok.txt", listing[0].Name)
	h.settle()
}

func TestTransientScanReadsAgain(t *testing.T) {
	h := newHarness(t, Options{})
	var armed atomic.Bool
	h.forest.readDir = func(name string) ([]os.DirEntry, error) {
		entries, err := os.ReadDir(name)
		if err == nil && armed.CompareAndSwap(true, false) {
			// lands between the listing and the closing lstat
			if werr := os.WriteFile(filepath.Join(name, "late.txt"), []byte("late"), 0o644); werr != nil {
				return nil, werr
			}
		}
		return entries, err
	}

	rootID, rootPath := h.root()
	h.settle()
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(rootPath, past, past))
	armed.Store(true)

	listing, err := h.forest.Read(h.ctx, rootID)
	require.NoError(t, err)
	assert.Empty(t, listing)

	// nothing else asks for a read
	require.Eventually(t, func() bool {
		return slices.Equal(h.childNames(rootID), []string{"late.txt"})
	}, 5*time.Second, 10*time.Millisecond)
	h.settle()
}

func TestReadBufferedDuringFailedScan(t *testing.T) {
	h := newHarness(t, Options{})
	entered := make(chan struct{})
	release := make(chan struct{})
	var armed atomic.Bool
	h.forest.readDir = func(name string) ([]os.DirEntry, error) {
		if filepath.Base(name) == "sub" && armed.CompareAndSwap(true, false) {
			close(entered)
			<-release
			return nil, errDisk
		}
		return os.ReadDir(name)
	}

	rootID, rootPath := h.root()
	testutil.WriteFile(t, rootPath, "sub/a.txt", []byte("a"))
	_, err := h.forest.Read(h.ctx, rootID)
	require.NoError(t, err)
	h.settle()
	sub := h.childByName(rootID, "sub")
	armed.Store(true)

	first := make(chan error, 1)
	go func() {
		_, err := h.forest.Read(h.ctx, sub.ID)
		first <- err
	}()
	<-entered

	type result struct {
		listing []identity.Stat
		err     error
	}
	second := make(chan result, 1)
	require.NoError(t, h.forest.call(h.ctx, func() {
		h.forest.dirs[sub.ID].read(func(l []identity.Stat, err error) {
			second <- result{l, err}
		})
	}))
	close(release)

	assert.Error(t, <-first)
	got := <-second
	require.NoError(t, got.err)
	require.Len(t, got.listing, 1)
	assert.Equal(t, "a.txt", got.listing[0].Name)
}
