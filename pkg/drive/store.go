package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/wisnuc/appifi-sub000/internal/logger"
	"github.com/wisnuc/appifi-sub000/pkg/fserror"
)

// Snapshot is an immutable view of the drive list at one version.
type Snapshot struct {
	Version uint64
	Drives  []Drive
}

// Find returns the drive with id.
func (s Snapshot) Find(id uuid.UUID) (Drive, bool) {
	for _, d := range s.Drives {
		if d.ID == id {
			return d, true
		}
	}
	return Drive{}, false
}

// Store keeps the drive list in memory and persists it to a JSON file.
//
// Commits are compare-and-swap on the version of the list they were derived
// from. Only one commit may be writing the file at a time; an overlapping
// commit fails with ErrBusy instead of waiting.
type Store struct {
	path  string
	write func(path string, drives []Drive) error

	mu      sync.Mutex
	drives  []Drive
	version uint64
	busy    bool
}

// Open loads the list at path. A missing file is an empty list.
func Open(path string) (*Store, error) {
	s := &Store{path: path, write: writeAtomic}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Info("drive: no drive list at %s, starting empty", path)
		return s, nil
	case err != nil:
		return nil, fserror.FromErrno("read", path, err)
	}

	var drives []Drive
	if err := json.Unmarshal(data, &drives); err != nil {
		return nil, fmt.Errorf("failed to parse drive list %s: %w", path, err)
	}
	if err := check(drives); err != nil {
		return nil, fmt.Errorf("drive list %s: %w", path, err)
	}
	s.drives = drives
	logger.Info("drive: loaded %d drives from %s", len(drives), path)
	return s, nil
}

// Path returns the file the store persists to.
func (s *Store) Path() string { return s.path }

// Snapshot returns the current list.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Version: s.version, Drives: append([]Drive(nil), s.drives...)}
}

// Commit replaces the list with next, provided the list is still at version.
// It fails with ErrConflict when another commit got there first and with
// ErrBusy while another commit is writing.
func (s *Store) Commit(ctx context.Context, version uint64, next []Drive) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := check(next); err != nil {
		return fserror.New(fserror.ErrInvalidArgument, s.path, "%v", err)
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return fserror.New(fserror.ErrBusy, s.path, "drive list is being written")
	}
	if version != s.version {
		s.mu.Unlock()
		return fserror.New(fserror.ErrConflict, s.path, "drive list changed (version %d, now %d)", version, s.version)
	}
	s.busy = true
	s.mu.Unlock()

	next = append([]Drive(nil), next...)
	err := s.write(s.path, next)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	if err != nil {
		return err
	}
	s.drives = next
	s.version++
	return nil
}

// Add appends d to the list.
func (s *Store) Add(ctx context.Context, d Drive) error {
	snap := s.Snapshot()
	return s.Commit(ctx, snap.Version, append(snap.Drives, d))
}

// Update applies fn to the drive with id. fn may not change the id.
func (s *Store) Update(ctx context.Context, id uuid.UUID, fn func(*Drive) error) error {
	snap := s.Snapshot()
	for i := range snap.Drives {
		if snap.Drives[i].ID != id {
			continue
		}
		d := snap.Drives[i]
		if err := fn(&d); err != nil {
			return err
		}
		if d.ID != id {
			return fserror.New(fserror.ErrInvalidArgument, s.path, "drive id cannot change")
		}
		snap.Drives[i] = d
		return s.Commit(ctx, snap.Version, snap.Drives)
	}
	return fserror.New(fserror.ErrNotFound, s.path, "drive %s", id)
}

// Remove deletes the drive with id from the list. Its directory is untouched.
func (s *Store) Remove(ctx context.Context, id uuid.UUID) error {
	snap := s.Snapshot()
	for i, d := range snap.Drives {
		if d.ID == id {
			next := append(snap.Drives[:i:i], snap.Drives[i+1:]...)
			return s.Commit(ctx, snap.Version, next)
		}
	}
	return fserror.New(fserror.ErrNotFound, s.path, "drive %s", id)
}

func check(drives []Drive) error {
	seen := make(map[uuid.UUID]bool, len(drives))
	for _, d := range drives {
		if err := d.Validate(); err != nil {
			return err
		}
		if seen[d.ID] {
			return fmt.Errorf("duplicate drive %s", d.ID)
		}
		seen[d.ID] = true
	}
	return nil
}

// writeAtomic writes drives to a temporary file next to path, syncs it and
// renames it over path.
func writeAtomic(path string, drives []Drive) error {
	if drives == nil {
		drives = []Drive{}
	}
	data, err := json.MarshalIndent(drives, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fserror.FromErrno("mkdir", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fserror.FromErrno("create", dir, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fserror.FromErrno("write", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fserror.FromErrno("fsync", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fserror.FromErrno("close", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fserror.FromErrno("rename", path, err)
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}
