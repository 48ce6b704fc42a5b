package vfs

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bareDir(f *Forest, name string) *Directory {
	return &Directory{nodeBase: nodeBase{forest: f, id: uuid.New(), name: name}, modTime: neverScanned}
}

func TestAttachDetach(t *testing.T) {
	f := New(Options{DrivesDir: "/srv/drives"})
	root := bareDir(f, "drive")
	sub := bareDir(f, "sub")
	file := &File{nodeBase: nodeBase{forest: f, id: uuid.New(), name: "x.txt"}}

	attach(sub, root)
	attach(file, sub)
	assert.Equal(t, filepath.Join("/srv/drives", "drive", "sub", "x.txt"), absPath(file))
	assert.Same(t, root, rootOf(file))
	assert.Same(t, root, rootOf(root))
	assert.Len(t, nodePath(file), 3)

	assert.Panics(t, func() { attach(sub, root) })

	detach(sub)
	assert.Empty(t, root.children)
	assert.Nil(t, sub.parent)
	assert.Panics(t, func() { detach(sub) })

	// a detached file has no root
	detach(file)
	assert.Nil(t, rootOf(file))
}

func TestPreVisitOrder(t *testing.T) {
	f := New(Options{DrivesDir: "/d"})
	root := bareDir(f, "r")
	a := bareDir(f, "a")
	b := bareDir(f, "b")
	attach(a, root)
	attach(b, a)

	var seen []string
	preVisit(root, func(n node) { seen = append(seen, n.base().name) })
	assert.Equal(t, []string{"r", "a", "b"}, seen)
}

func TestPendingCollapsesToEarliest(t *testing.T) {
	h := newHarness(t, Options{})
	rootID, _ := h.root()
	h.settle()

	due := func() time.Time {
		var s *dirPending
		require.NoError(t, h.forest.call(h.ctx, func() {
			s, _ = h.forest.dirs[rootID].state.(*dirPending)
		}))
		require.NotNil(t, s)
		return s.due
	}

	require.NoError(t, h.forest.RequestRead(h.ctx, rootID, time.Hour))
	late := due()

	require.NoError(t, h.forest.RequestRead(h.ctx, rootID, 30*time.Minute))
	early := due()
	assert.True(t, early.Before(late))

	require.NoError(t, h.forest.RequestRead(h.ctx, rootID, 2*time.Hour))
	assert.Equal(t, early, due())

	// an immediate read overrides the pending timer
	_, err := h.forest.Read(h.ctx, rootID)
	require.NoError(t, err)
	info, err := h.forest.DirectoryByID(h.ctx, rootID)
	require.NoError(t, err)
	assert.Equal(t, "idle", info.State)
}

func TestDefaults(t *testing.T) {
	f := New(Options{DrivesDir: "/d"})
	opts := f.Options()
	assert.Equal(t, 6, opts.DirReadConcurrency)
	assert.Equal(t, 2, opts.HashConcurrency)
	assert.Equal(t, 16, opts.StatConcurrency)
	assert.Equal(t, time.Second, opts.RetryDelay)
	assert.Equal(t, IndexAll, opts.IndexPolicy)
	assert.Equal(t, filepath.Join("/d", "8e7f0c5c-5e3e-4d53-9f0b-1c4f6d0b8a11"),
		f.DrivePath(uuid.MustParse("8e7f0c5c-5e3e-4d53-9f0b-1c4f6d0b8a11")))
}
