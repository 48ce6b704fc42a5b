package ops

import (
	"context"
	"io"
	"os"

	"github.com/wisnuc/appifi-sub000/internal/logger"
	"github.com/wisnuc/appifi-sub000/pkg/extent"
	"github.com/wisnuc/appifi-sub000/pkg/fingerprint"
	"github.com/wisnuc/appifi-sub000/pkg/fserror"
	"github.com/wisnuc/appifi-sub000/pkg/identity"
)

// createTemp opens a fresh temp file in dir. The returned cleanup removes it
// unless it has been renamed or linked away and removed already.
func createTemp(dir, pattern string) (*os.File, func(), error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, nil, fserror.FromErrno("create temp", dir, err)
	}
	cleanup := func() {
		f.Close()
		if err := os.Remove(f.Name()); err != nil && !os.IsNotExist(err) {
			logger.Warn("ops: removing temp %s: %v", f.Name(), err)
		}
	}
	return f, cleanup, nil
}

func expectFile(path string) (identity.Stat, error) {
	st, err := identity.ReadIdentifiedStat(path)
	if err != nil {
		return identity.Stat{}, err
	}
	if !st.IsFile() {
		return identity.Stat{}, fserror.New(fserror.ErrNotAFile, path, "not a regular file")
	}
	return st, nil
}

// unchanged reports whether path still has the mtime and size of st.
func unchanged(path string, st identity.Stat) bool {
	fi, err := os.Lstat(path)
	return err == nil && fi.ModTime().UnixMilli() == st.ModTime && fi.Size() == st.Size
}

// CloneFile duplicates src at target. The copy shares extents with src where
// the filesystem allows, gets a fresh id, and inherits src's hash when src was
// not modified during the clone. tmpDir must be on the filesystem of target.
func CloneFile(src, target, tmpDir string, policy Policy) (*identity.Stat, Resolved, error) {
	before, err := expectFile(src)
	if err != nil {
		return nil, Resolved{}, err
	}

	in, err := os.Open(src)
	if err != nil {
		return nil, Resolved{}, fserror.FromErrno("open", src, err)
	}
	defer in.Close()

	tmp, cleanup, err := createTemp(tmpDir, ".clone-*")
	if err != nil {
		return nil, Resolved{}, err
	}
	defer cleanup()

	if err := extent.CloneOrCopy(in, tmp); err != nil {
		return nil, Resolved{}, err
	}
	if err := tmp.Close(); err != nil {
		return nil, Resolved{}, fserror.FromErrno("close", tmp.Name(), err)
	}

	hash := before.Hash
	if hash != "" && !unchanged(src, before) {
		logger.Debug("ops: %s changed while cloning, dropping hash", src)
		hash = ""
	}
	if _, err := identity.ForceIdentity(tmp.Name(), identity.Force{Hash: hash}); err != nil {
		return nil, Resolved{}, err
	}
	return CreateFileFromTemp(tmp.Name(), target, hash, policy)
}

// AppendFile appends the content of source to target. The result replaces
// target atomically, keeps its id, and carries a fingerprint extended from
// target's existing one when it had a valid hash.
//
// ErrStaleTimestamp or ErrIdentityMismatch mean target was modified or
// replaced concurrently; nothing was changed.
func AppendFile(ctx context.Context, target, source, tmpDir string) (identity.Stat, error) {
	st, err := expectFile(target)
	if err != nil {
		return identity.Stat{}, err
	}

	in, err := os.Open(target)
	if err != nil {
		return identity.Stat{}, fserror.FromErrno("open", target, err)
	}
	defer in.Close()

	src, err := os.Open(source)
	if err != nil {
		return identity.Stat{}, fserror.FromErrno("open", source, err)
	}
	defer src.Close()
	sfi, err := src.Stat()
	if err != nil {
		return identity.Stat{}, fserror.FromErrno("fstat", source, err)
	}

	tmp, cleanup, err := createTemp(tmpDir, ".append-*")
	if err != nil {
		return identity.Stat{}, err
	}
	defer cleanup()

	if err := extent.CloneOrCopy(in, tmp); err != nil {
		return identity.Stat{}, err
	}
	if !unchanged(target, st) {
		return identity.Stat{}, fserror.New(fserror.ErrStaleTimestamp, target, "modified while cloning")
	}

	if st.Size%extent.BlockSize == 0 {
		err = extent.ConcatOrCopy(tmp, st.Size, src)
	} else {
		err = extent.CopyAt(tmp, st.Size, src)
	}
	if err != nil {
		return identity.Stat{}, err
	}

	var hash string
	appended := io.NewSectionReader(src, 0, sfi.Size())
	if st.Hash != "" {
		hash, err = fingerprint.Extend(ctx, st.Hash, st.Size, tmp, appended)
	} else {
		hash, err = fingerprint.Reader(ctx, io.NewSectionReader(tmp, 0, st.Size+sfi.Size()), nil)
	}
	if err != nil {
		return identity.Stat{}, fserror.FromErrno("fingerprint", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return identity.Stat{}, fserror.FromErrno("close", tmp.Name(), err)
	}

	if _, err := identity.ForceIdentity(tmp.Name(), identity.Force{ID: st.ID, Hash: hash}); err != nil {
		return identity.Stat{}, err
	}

	cur, err := identity.ReadIdentifiedStat(target)
	if err != nil {
		return identity.Stat{}, err
	}
	if cur.ID != st.ID {
		return identity.Stat{}, fserror.New(fserror.ErrIdentityMismatch, target, "replaced while appending")
	}
	if cur.ModTime != st.ModTime || cur.Size != st.Size {
		return identity.Stat{}, fserror.New(fserror.ErrStaleTimestamp, target, "modified while appending")
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return identity.Stat{}, fserror.FromErrno("rename", target, err)
	}
	return identity.ReadIdentifiedStat(target)
}
