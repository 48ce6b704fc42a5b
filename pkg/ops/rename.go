package ops

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"

	"github.com/wisnuc/appifi-sub000/pkg/fserror"
)

// renameNoReplace renames oldPath to newPath and fails with ErrConflict if
// newPath exists. Kernels or filesystems without RENAME_NOREPLACE fall back
// to a check followed by a plain rename.
func renameNoReplace(oldPath, newPath string) error {
	err := unix.Renameat2(unix.AT_FDCWD, oldPath, unix.AT_FDCWD, newPath, unix.RENAME_NOREPLACE)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EINVAL) && !errors.Is(err, unix.ENOSYS) {
		return fserror.FromErrno("rename", newPath, err)
	}

	if _, err := os.Lstat(newPath); err == nil {
		return fserror.FromErrno("rename", newPath, unix.EEXIST)
	} else if !os.IsNotExist(err) {
		return fserror.FromErrno("lstat", newPath, err)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return fserror.FromErrno("rename", newPath, err)
	}
	return nil
}
