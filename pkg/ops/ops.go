// Package ops mutates the disk on behalf of callers: it creates directories,
// moves identity-stamped temp files into place, renames entries, and
// duplicates or appends to files. Name collisions are settled by a Policy.
//
// Every entry ops creates carries an identity record; callers learn about the
// result through the returned identity.Stat and then ask the forest to re-read
// the affected directory.
package ops

import (
	"os"
	"path/filepath"

	"github.com/wisnuc/appifi-sub000/internal/logger"
	"github.com/wisnuc/appifi-sub000/pkg/fserror"
	"github.com/wisnuc/appifi-sub000/pkg/identity"
)

// maxAttempts bounds the create/resolve loop when the target keeps changing
// underneath us.
const maxAttempts = 8

// attemptFunc performs the vanilla operation at target. It must return an
// error carrying ErrConflict when target exists.
type attemptFunc func(target string) error

// resolve runs attempt at target and settles collisions with policy. isDir is
// the type of the entry being produced.
//
// The returned stat is nil when a diff-typed collision was skipped.
func resolve(target string, isDir bool, policy Policy, attempt attemptFunc) (*identity.Stat, Resolved, error) {
	var resolved Resolved

	for i := 0; i < maxAttempts; i++ {
		err := attempt(target)
		if err == nil {
			st, err := identity.ReadIdentifiedStat(target)
			if err != nil {
				return nil, resolved, err
			}
			return &st, resolved, nil
		}
		if !fserror.Has(err, fserror.ErrConflict) {
			return nil, resolved, err
		}

		fi, lerr := os.Lstat(target)
		if lerr != nil {
			if os.IsNotExist(lerr) {
				// gone between attempt and lstat
				continue
			}
			return nil, resolved, fserror.FromErrno("lstat", target, lerr)
		}

		same := fi.IsDir() == isDir
		idx := 1
		r := policy.Diff()
		if same {
			idx, r = 0, policy.Same()
		}

		switch r {
		case Unset:
			return nil, resolved, fserror.Conflict(target, same)

		case Skip:
			resolved[idx] = true
			if !same {
				return nil, resolved, nil
			}
			st, err := identity.ReadIdentifiedStat(target)
			if err != nil {
				return nil, resolved, err
			}
			return &st, resolved, nil

		case Replace:
			resolved[idx] = true
			logger.Debug("ops: replacing %s", target)
			if err := os.RemoveAll(target); err != nil {
				return nil, resolved, fserror.FromErrno("remove", target, err)
			}

		case Rename:
			resolved[idx] = true
			parent := filepath.Dir(target)
			names, err := siblingNames(parent)
			if err != nil {
				return nil, resolved, err
			}
			target = filepath.Join(parent, Autoname(filepath.Base(target), names))
		}
	}
	return nil, resolved, fserror.New(fserror.ErrConflict, target, "target kept changing")
}

func siblingNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fserror.FromErrno("readdir", dir, err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

// CreateDirectory creates a directory at path and gives it an identity.
func CreateDirectory(path string, policy Policy) (*identity.Stat, Resolved, error) {
	return resolve(path, true, policy, func(target string) error {
		if err := os.Mkdir(target, 0o755); err != nil {
			return fserror.FromErrno("mkdir", target, err)
		}
		return nil
	})
}

// CreateFileFromTemp hard-links the identity-stamped temp file into target,
// keeping its id and hash, and removes the temp name.
//
// When expectedHash is set the temp file must carry exactly that hash.
func CreateFileFromTemp(tmpPath, target, expectedHash string, policy Policy) (*identity.Stat, Resolved, error) {
	tmp, err := identity.ReadIdentifiedStat(tmpPath)
	if err != nil {
		return nil, Resolved{}, err
	}
	if !tmp.IsFile() {
		return nil, Resolved{}, fserror.New(fserror.ErrNotAFile, tmpPath, "temp entry is not a file")
	}
	if expectedHash != "" && tmp.Hash != expectedHash {
		return nil, Resolved{}, fserror.New(fserror.ErrHashMismatch, tmpPath, "temp hash %q, expected %q", tmp.Hash, expectedHash)
	}

	st, resolved, err := resolve(target, false, policy, func(target string) error {
		if err := os.Link(tmpPath, target); err != nil {
			return fserror.FromErrno("link", target, err)
		}
		return nil
	})
	if err != nil {
		return nil, resolved, err
	}
	if st != nil {
		if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
			logger.Warn("ops: removing temp %s: %v", tmpPath, err)
		}
	}
	return st, resolved, nil
}

// RenameEntry moves oldPath to newPath without ever overwriting an entry the
// policy did not ask to replace. isDir is the expected type of oldPath.
func RenameEntry(oldPath, newPath string, isDir bool, policy Policy) (*identity.Stat, Resolved, error) {
	fi, err := os.Lstat(oldPath)
	if err != nil {
		return nil, Resolved{}, fserror.FromErrno("lstat", oldPath, err)
	}
	switch {
	case isDir && !fi.IsDir():
		return nil, Resolved{}, fserror.New(fserror.ErrNotADirectory, oldPath, "not a directory")
	case !isDir && !fi.Mode().IsRegular():
		return nil, Resolved{}, fserror.New(fserror.ErrNotAFile, oldPath, "not a regular file")
	}

	parent := filepath.Dir(newPath)
	pfi, err := os.Stat(parent)
	if err != nil {
		return nil, Resolved{}, fserror.FromErrno("stat", parent, err)
	}
	if !pfi.IsDir() {
		return nil, Resolved{}, fserror.New(fserror.ErrNotADirectory, parent, "target parent is not a directory")
	}

	return resolve(newPath, isDir, policy, func(target string) error {
		return renameNoReplace(oldPath, target)
	})
}
