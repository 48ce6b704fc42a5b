// Package extent duplicates and concatenates file data by sharing extents
// (FICLONE / FICLONERANGE) on filesystems that support reflinks, with an
// explicit copy fallback for those that do not.
//
// Neither operation is resumable. On any error the destination is in an
// undefined state and must be discarded by the caller.
package extent

import (
	"errors"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/wisnuc/appifi-sub000/internal/logger"
	"github.com/wisnuc/appifi-sub000/pkg/fserror"
)

// BlockSize is the alignment required for a concat destination offset.
const BlockSize = 4096

// Clone makes dst share all of src's extents. dst must be open for writing
// and is resized to src's length.
func Clone(src, dst *os.File) error {
	if err := unix.IoctlFileClone(int(dst.Fd()), int(src.Fd())); err != nil {
		return fserror.FromErrno("ficlone", dst.Name(), classifyIoctl(err))
	}
	return nil
}

// Concat shares src's extents onto dst starting at offset. offset must be a
// multiple of BlockSize.
//
// The ioctl takes 64-bit offsets, so large destinations need no splitting.
func Concat(dst *os.File, offset int64, src *os.File) error {
	if offset < 0 || offset%BlockSize != 0 {
		return fserror.New(fserror.ErrMisaligned, dst.Name(), "offset %d is not a multiple of %d", offset, BlockSize)
	}
	arg := unix.FileCloneRange{
		Src_fd:      int64(src.Fd()),
		Src_offset:  0,
		Src_length:  0, // through EOF of src
		Dest_offset: uint64(offset),
	}
	if err := unix.IoctlFileCloneRange(int(dst.Fd()), &arg); err != nil {
		return fserror.FromErrno("ficlonerange", dst.Name(), classifyIoctl(err))
	}
	return nil
}

// CloneOrCopy clones src into dst, copying the bytes when the filesystem
// cannot share extents.
func CloneOrCopy(src, dst *os.File) error {
	err := Clone(src, dst)
	if !fserror.Has(err, fserror.ErrNotSupported) {
		return err
	}
	logger.Debug("extent: clone unsupported for %s, copying", dst.Name())

	if err := dst.Truncate(0); err != nil {
		return fserror.FromErrno("truncate", dst.Name(), err)
	}
	return copyRange(dst, 0, src)
}

// ConcatOrCopy concatenates src onto dst at offset, copying the bytes when
// the filesystem cannot share extents. The alignment rule applies to both
// paths.
func ConcatOrCopy(dst *os.File, offset int64, src *os.File) error {
	err := Concat(dst, offset, src)
	if !fserror.Has(err, fserror.ErrNotSupported) {
		return err
	}
	logger.Debug("extent: clone range unsupported for %s, copying", dst.Name())
	return copyRange(dst, offset, src)
}

// CopyAt writes all of src into dst at offset without sharing extents. It
// has no alignment requirement.
func CopyAt(dst *os.File, offset int64, src *os.File) error {
	return copyRange(dst, offset, src)
}

// copyRange writes all of src into dst at offset, preferring the in-kernel
// copy_file_range and falling back to a userspace copy.
func copyRange(dst *os.File, offset int64, src *os.File) error {
	fi, err := src.Stat()
	if err != nil {
		return fserror.FromErrno("fstat", src.Name(), err)
	}
	remaining := fi.Size()

	var roff int64
	woff := offset
	for remaining > 0 {
		n, err := unix.CopyFileRange(int(src.Fd()), &roff, int(dst.Fd()), &woff, int(min(remaining, 1<<30)), 0)
		if err != nil {
			if errors.Is(err, unix.EXDEV) || errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.EINVAL) ||
				errors.Is(err, unix.EOPNOTSUPP) {
				break
			}
			return fserror.FromErrno("copy_file_range", dst.Name(), err)
		}
		if n == 0 {
			break
		}
		remaining -= int64(n)
	}
	if remaining == 0 {
		return nil
	}

	r := io.NewSectionReader(src, roff, remaining)
	w := io.NewOffsetWriter(dst, woff)
	if _, err := io.Copy(w, r); err != nil {
		return fserror.FromErrno("copy", dst.Name(), err)
	}
	return nil
}

// classifyIoctl reports a missing ioctl as EOPNOTSUPP so it classifies as
// ErrNotSupported alongside EXDEV and EOPNOTSUPP.
func classifyIoctl(err error) error {
	if errors.Is(err, unix.ENOTTY) {
		return unix.EOPNOTSUPP
	}
	return err
}
