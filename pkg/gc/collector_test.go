package gc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisnuc/appifi-sub000/pkg/media"
	"github.com/wisnuc/appifi-sub000/pkg/vfs"
)

type fakeIndex struct {
	stats  vfs.Stats
	hashes []string
	err    error
}

func (f *fakeIndex) Stats(context.Context) (vfs.Stats, error) { return f.stats, f.err }

func (f *fakeIndex) Hashes(context.Context) ([]string, error) { return f.hashes, f.err }

func seed(t *testing.T, hashes ...string) *media.MemoryStore {
	t.Helper()
	store := media.NewMemoryStore()
	for _, h := range hashes {
		require.NoError(t, store.Put(context.Background(), &media.Metadata{Hash: h, Magic: "JPEG"}))
	}
	return store
}

func TestCollectDeletesOrphans(t *testing.T) {
	ctx := context.Background()
	store := seed(t, "aa", "bb", "cc")
	c := NewCollector(&fakeIndex{hashes: []string{"bb"}}, store, Config{BatchSize: 1})

	stats, err := c.RunNow(ctx)
	require.NoError(t, err)
	assert.False(t, stats.Skipped)
	assert.EqualValues(t, 1, stats.ReferencedCount)
	assert.EqualValues(t, 3, stats.ExistingCount)
	assert.EqualValues(t, 2, stats.OrphanedCount)
	assert.EqualValues(t, 2, stats.DeletedCount)

	left, err := store.Hashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bb"}, left)
	assert.Contains(t, stats.Summary(), "deleted=2")
}

func TestCollectSkipsUnsettledForest(t *testing.T) {
	store := seed(t, "aa")
	c := NewCollector(&fakeIndex{stats: vfs.Stats{HashlessFiles: 3}}, store, Config{})

	stats, err := c.RunNow(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.Skipped)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCollectDryRun(t *testing.T) {
	store := seed(t, "aa", "bb")
	c := NewCollector(&fakeIndex{}, store, Config{DryRun: true})

	stats, err := c.RunNow(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.OrphanedCount)
	assert.Zero(t, stats.DeletedCount)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCollectIndexError(t *testing.T) {
	c := NewCollector(&fakeIndex{err: errors.New("forest stopped")}, seed(t), Config{})

	_, err := c.RunNow(context.Background())
	assert.Error(t, err)
}

func TestRunCollectsPeriodically(t *testing.T) {
	store := seed(t, "aa")
	c := NewCollector(&fakeIndex{}, store, Config{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		n, err := store.Count(context.Background())
		return err == nil && n == 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestDefaults(t *testing.T) {
	c := NewCollector(&fakeIndex{}, seed(t), Config{})
	assert.Equal(t, time.Hour, c.config.Interval)
	assert.Equal(t, 1000, c.config.BatchSize)
}
