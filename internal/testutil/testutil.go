// Package testutil holds fixtures shared by tests that touch real disks.
package testutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// XattrDir returns a fresh temporary directory on a filesystem that accepts
// user extended attributes, or skips the test.
func XattrDir(t testing.TB) string {
	t.Helper()
	dir := t.TempDir()
	probe := filepath.Join(dir, ".xattr-probe")
	require.NoError(t, os.WriteFile(probe, nil, 0o644))
	defer os.Remove(probe)

	if err := unix.Lsetxattr(probe, "user.probe", []byte("1"), 0); err != nil {
		if errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.EPERM) {
			t.Skipf("user xattrs not supported under %s: %v", dir, err)
		}
		require.NoError(t, err)
	}
	return dir
}

// WriteFile writes data to dir/rel, creating parents.
func WriteFile(t testing.TB, dir, rel string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// Mkdir creates dir/rel and its parents.
func Mkdir(t testing.TB, dir, rel string) string {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(path, 0o755))
	return path
}
