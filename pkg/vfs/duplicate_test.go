package vfs

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisnuc/appifi-sub000/internal/testutil"
	"github.com/wisnuc/appifi-sub000/pkg/identity"
)

// copyIdentity stamps path with the id of src, the way cp -a or rsync -X
// carry the xattr along.
func copyIdentity(t *testing.T, src NodeInfo, path string) {
	t.Helper()
	_, err := identity.ForceIdentity(path, identity.Force{ID: src.ID})
	require.NoError(t, err)
}

func TestCopiedSiblingsGetFreshIDs(t *testing.T) {
	h := newHarness(t, Options{})
	rootID, rootPath := h.root()
	testutil.Mkdir(t, rootPath, "a")
	x := testutil.WriteFile(t, rootPath, "x.txt", []byte("same"))
	_, err := h.forest.Read(h.ctx, rootID)
	require.NoError(t, err)
	a := h.childByName(rootID, "a")
	file := h.childByName(rootID, "x.txt")

	// the copies sort before the originals
	dirCopy := testutil.Mkdir(t, rootPath, "A copy")
	copyIdentity(t, a, dirCopy)
	fileCopy := testutil.WriteFile(t, rootPath, "X copy.txt", []byte("same"))
	copyIdentity(t, file, fileCopy)
	// a hard link is the same file under a second name
	require.NoError(t, os.Link(x, filepath.Join(rootPath, "y.txt")))

	_, err = h.forest.Read(h.ctx, rootID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		names := h.childNames(rootID)
		return slices.Equal(names, []string{"A copy", "a", "X copy.txt", "x.txt"})
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, a.ID, h.childByName(rootID, "a").ID)
	assert.Equal(t, file.ID, h.childByName(rootID, "x.txt").ID)

	for _, c := range []struct {
		name string
		orig NodeInfo
	}{{"A copy", a}, {"X copy.txt", file}} {
		node := h.childByName(rootID, c.name)
		assert.NotEqual(t, c.orig.ID, node.ID, c.name)
		st, err := identity.ReadIdentifiedStat(filepath.Join(rootPath, c.name))
		require.NoError(t, err)
		assert.Equal(t, node.ID, st.ID, c.name)
	}

	h.settle()
	paths, err := h.forest.FilePathsByHash(h.ctx, hashOf([]byte("same")))
	require.NoError(t, err)
	assert.Equal(t, []string{fileCopy, x}, paths)
}

func TestDirectoryCopiedAcrossParents(t *testing.T) {
	h := newHarness(t, Options{})
	rootID, rootPath := h.root()
	testutil.Mkdir(t, rootPath, "p/a")
	testutil.Mkdir(t, rootPath, "q")
	_, err := h.forest.Read(h.ctx, rootID)
	require.NoError(t, err)
	h.settle()
	p := h.childByName(rootID, "p")
	q := h.childByName(rootID, "q")
	a := h.childByName(p.ID, "a")

	copyIdentity(t, a, testutil.Mkdir(t, rootPath, "q/a"))
	_, err = h.forest.Read(h.ctx, q.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		children, err := h.forest.Children(h.ctx, q.ID)
		return err == nil && len(children) == 1 && children[0].ID != a.ID
	}, 5*time.Second, 10*time.Millisecond)

	// neither side takes the other's node away
	_, err = h.forest.Read(h.ctx, p.ID)
	require.NoError(t, err)
	_, err = h.forest.Read(h.ctx, q.ID)
	require.NoError(t, err)
	h.settle()

	path, err := h.forest.PathOf(h.ctx, rootID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(rootPath, "p", "a"), path)
	assert.Equal(t, []string{"a"}, h.childNames(q.ID))
	assert.NotEqual(t, a.ID, h.childByName(q.ID, "a").ID)
}
