package vfs

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/wisnuc/appifi-sub000/internal/logger"
	"github.com/wisnuc/appifi-sub000/pkg/fserror"
	"github.com/wisnuc/appifi-sub000/pkg/identity"
)

// File state variants.
type (
	fileState interface{ String() string }

	fileHashless struct{}

	fileHashing struct {
		cancel context.CancelFunc
	}

	fileHashFailed struct {
		err error
	}

	fileHashed struct{}
)

func (fileHashless) String() string    { return "hashless" }
func (*fileHashing) String() string    { return "hashing" }
func (*fileHashFailed) String() string { return "failed" }
func (fileHashed) String() string      { return "hashed" }

// File mirrors one regular file.
type File struct {
	nodeBase

	magic identity.Magic
	size  int64
	hash  string

	state     fileState
	failures  int
	destroyed bool
}

func newFile(f *Forest, parent *Directory, st identity.Stat) *File {
	file := &File{
		nodeBase: nodeBase{forest: f, id: st.ID, name: st.Name},
		magic:    st.Magic,
		size:     st.Size,
		hash:     st.Hash,
	}
	attach(file, parent)
	if file.hash != "" {
		file.setState(fileHashed{})
	} else {
		file.setState(fileHashless{})
	}
	return file
}

func (file *File) setState(next fileState) {
	f := file.forest
	switch file.state.(type) {
	case fileHashless:
		delete(f.hashlessFiles, file)
	case *fileHashing:
		delete(f.hashingFiles, file)
	case *fileHashFailed:
		delete(f.failedFiles, file)
	case fileHashed:
		f.unindexHash(file)
	}

	file.state = next

	switch next.(type) {
	case fileHashless:
		f.hashlessFiles[file] = struct{}{}
	case *fileHashing:
		f.hashingFiles[file] = struct{}{}
	case *fileHashFailed:
		f.failedFiles[file] = struct{}{}
	case fileHashed:
		f.indexHash(file)
		if f.media != nil && file.magic.IsMedia() {
			f.media.Submit(file.hash, absPath(file), file.magic)
		}
	}
	f.requestSchedule()
}

type hashResult struct {
	stat identity.Stat
	err  error
}

// startHashing launches a hash worker for the file's current path.
func (file *File) startHashing() {
	f := file.forest
	ctx, cancel := context.WithCancel(f.ctx)
	st := &fileHashing{cancel: cancel}
	file.setState(st)

	path := absPath(file)
	id := file.id
	f.goWorker(func() {
		res := f.hashFile(ctx, path, id)
		f.post(func() { file.onHashed(st, res) })
	})
}

// hashFile is the disk half of hashing. The mtime taken before reading is
// the optimistic token UpdateContentHash checks.
func (f *Forest) hashFile(ctx context.Context, path string, id uuid.UUID) (res hashResult) {
	if err := f.hashSem.Acquire(ctx, 1); err != nil {
		return hashResult{err: err}
	}
	defer f.hashSem.Release(1)

	if f.hashGate != nil {
		select {
		case <-f.hashGate:
		case <-ctx.Done():
			return hashResult{err: ctx.Err()}
		}
	}

	f.metrics.HashStarted()
	start := time.Now()
	var size int64
	defer func() {
		f.metrics.HashFinished(time.Since(start), size, res.err)
	}()

	fi, err := os.Lstat(path)
	if err != nil {
		return hashResult{err: fserror.FromErrno("lstat", path, err)}
	}
	if !fi.Mode().IsRegular() {
		return hashResult{err: fserror.New(fserror.ErrNotAFile, path, "not a regular file")}
	}
	if fi.Size() > identity.MaxHashSize {
		return hashResult{err: fserror.New(fserror.ErrInvalidArgument, path, "file too large to hash")}
	}
	size = fi.Size()
	htime := fi.ModTime().UnixMilli()

	hash, err := f.fingerprint(ctx, path, f.opts.HashLimiter)
	if err != nil {
		return hashResult{err: fserror.FromErrno("fingerprint", path, err)}
	}
	st, err := identity.UpdateContentHash(path, id, hash, htime)
	return hashResult{stat: st, err: err}
}

func (file *File) onHashed(st *fileHashing, res hashResult) {
	if file.destroyed || file.state != fileState(st) {
		return
	}
	st.cancel()
	f := file.forest

	if res.err == nil {
		file.failures = 0
		file.hash = res.stat.Hash
		file.size = res.stat.Size
		file.setState(fileHashed{})
		return
	}
	if errors.Is(res.err, context.Canceled) && f.ctx.Err() != nil {
		return
	}

	switch {
	case fserror.Has(res.err, fserror.ErrStaleTimestamp):
		// written while hashing; start over without spending a retry
		logger.Debug("forest: %s changed while hashing, restarting", file.id)
		file.setState(fileHashless{})
		return
	case fserror.Has(res.err, fserror.ErrIdentityMismatch), fserror.Has(res.err, fserror.ErrNotFound),
		fserror.Has(res.err, fserror.ErrNotAFile):
		// replaced or removed behind our back; the parent's next scan settles it
		if file.parent != nil {
			file.parent.readFull(nil)
		}
	case fserror.Has(res.err, fserror.ErrInvalidArgument):
		file.failures = f.opts.HashRetries
	}

	file.failures++
	if file.failures >= f.opts.HashRetries {
		logger.Warn("forest: hashing %s failed %d times: %v", file.id, file.failures, res.err)
		file.setState(&fileHashFailed{err: res.err})
		return
	}
	logger.Debug("forest: hashing %s failed (%d/%d): %v", file.id, file.failures, f.opts.HashRetries, res.err)
	file.setState(fileHashless{})
}

// pathChanged restarts an in-flight hash at the new path.
func (file *File) pathChanged() {
	if s, ok := file.state.(*fileHashing); ok {
		s.cancel()
		file.startHashing()
	}
}

// resetFailed makes a failed file eligible for hashing again.
func (file *File) resetFailed() bool {
	if _, ok := file.state.(*fileHashFailed); !ok {
		return false
	}
	file.failures = 0
	file.setState(fileHashless{})
	return true
}

func (file *File) destroy() {
	if file.destroyed {
		return
	}
	if s, ok := file.state.(*fileHashing); ok {
		s.cancel()
	}
	file.setState(nil)
	file.destroyed = true
	if file.parent != nil {
		detach(file)
	}
}
