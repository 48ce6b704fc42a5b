package testing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisnuc/appifi-sub000/pkg/media"
)

// StoreTestSuite tests the media.Store contract against any implementation.
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &testing.StoreTestSuite{
//	        NewStore: func(t *testing.T) media.Store { return mystore.New() },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test.
	NewStore func(t *testing.T) media.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("PutGet", suite.testPutGet)
	t.Run("GetMissing", suite.testGetMissing)
	t.Run("Replace", suite.testReplace)
	t.Run("Delete", suite.testDelete)
	t.Run("Count", suite.testCount)
	t.Run("Hashes", suite.testHashes)
	t.Run("CancelledContext", suite.testCancelled)
}

func sample(hash string) *media.Metadata {
	lat, lon := 45.4642, 9.19
	taken := time.Date(2021, 6, 1, 12, 30, 0, 0, time.UTC)
	return &media.Metadata{
		Hash:        hash,
		Magic:       "JPEG",
		Size:        1234,
		Width:       4032,
		Height:      3024,
		Orientation: 6,
		DateTaken:   &taken,
		CameraMake:  "Canon",
		Latitude:    &lat,
		Longitude:   &lon,
		ExtractedAt: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (suite *StoreTestSuite) newStore(t *testing.T) media.Store {
	store := suite.NewStore(t)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func (suite *StoreTestSuite) testPutGet(t *testing.T) {
	ctx := context.Background()
	store := suite.newStore(t)

	want := sample("aa")
	require.NoError(t, store.Put(ctx, want))

	got, err := store.Get(ctx, "aa")
	require.NoError(t, err)
	assert.Equal(t, want.Width, got.Width)
	assert.Equal(t, want.Orientation, got.Orientation)
	assert.True(t, want.DateTaken.Equal(*got.DateTaken))
	assert.InDelta(t, *want.Latitude, *got.Latitude, 1e-9)
	assert.Equal(t, "Canon", got.CameraMake)
}

func (suite *StoreTestSuite) testGetMissing(t *testing.T) {
	store := suite.newStore(t)
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, media.ErrNotFound)
}

func (suite *StoreTestSuite) testReplace(t *testing.T) {
	ctx := context.Background()
	store := suite.newStore(t)

	md := sample("bb")
	require.NoError(t, store.Put(ctx, md))
	md.Width = 10
	require.NoError(t, store.Put(ctx, md))

	got, err := store.Get(ctx, "bb")
	require.NoError(t, err)
	assert.Equal(t, 10, got.Width)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func (suite *StoreTestSuite) testDelete(t *testing.T) {
	ctx := context.Background()
	store := suite.newStore(t)

	require.NoError(t, store.Put(ctx, sample("cc")))
	require.NoError(t, store.Delete(ctx, "cc"))
	_, err := store.Get(ctx, "cc")
	assert.ErrorIs(t, err, media.ErrNotFound)

	assert.NoError(t, store.Delete(ctx, "never-there"))
}

func (suite *StoreTestSuite) testCount(t *testing.T) {
	ctx := context.Background()
	store := suite.newStore(t)

	for _, h := range []string{"01", "02", "03"} {
		require.NoError(t, store.Put(ctx, sample(h)))
	}
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func (suite *StoreTestSuite) testHashes(t *testing.T) {
	ctx := context.Background()
	store := suite.newStore(t)

	hashes, err := store.Hashes(ctx)
	require.NoError(t, err)
	assert.Empty(t, hashes)

	for _, h := range []string{"0a", "0b"} {
		require.NoError(t, store.Put(ctx, sample(h)))
	}
	hashes, err = store.Hashes(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"0a", "0b"}, hashes)
}

func (suite *StoreTestSuite) testCancelled(t *testing.T) {
	store := suite.newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Get(ctx, "aa")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.Put(ctx, sample("aa")), context.Canceled)
}
