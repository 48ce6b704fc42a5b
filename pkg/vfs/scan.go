package vfs

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wisnuc/appifi-sub000/pkg/fserror"
	"github.com/wisnuc/appifi-sub000/pkg/identity"
)

// neverScanned is the modTime of a directory that has not completed a scan.
const neverScanned int64 = -1

type scanRequest struct {
	path string
	id   uuid.UUID

	// knownModTime short-circuits the scan when the directory's mtime still
	// equals it. neverScanned forces a full listing.
	knownModTime int64
}

type scanResult struct {
	self      identity.Stat
	listing   []identity.Stat
	unchanged bool
	transient bool
	err       error
}

// scanDirectory is the disk half of a directory read. It runs on a worker
// goroutine and touches no forest state.
func (f *Forest) scanDirectory(ctx context.Context, req scanRequest) (res scanResult) {
	if err := f.scanSem.Acquire(ctx, 1); err != nil {
		return scanResult{err: err}
	}
	defer f.scanSem.Release(1)

	f.metrics.ScanStarted()
	start := time.Now()
	defer func() {
		f.metrics.ScanFinished(time.Since(start), len(res.listing), res.err)
	}()

	self, err := identity.ReadIdentifiedStat(req.path)
	if err != nil {
		return scanResult{err: err}
	}
	if !self.IsDir() {
		return scanResult{err: fserror.New(fserror.ErrNotADirectory, req.path, "not a directory")}
	}
	if self.ID != req.id {
		return scanResult{err: fserror.New(fserror.ErrIdentityMismatch, req.path, "found %s, expected %s", self.ID, req.id)}
	}
	if req.knownModTime >= 0 && self.ModTime == req.knownModTime {
		return scanResult{self: self, unchanged: true}
	}

	entries, err := f.readDir(req.path)
	if err != nil {
		return scanResult{err: fserror.FromErrno("readdir", req.path, err)}
	}

	stats := make([]identity.Stat, len(entries))
	found := make([]bool, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.StatConcurrency)
	for i, e := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			st, err := identity.ReadIdentifiedStat(filepath.Join(req.path, e.Name()))
			switch {
			case err == nil:
				stats[i], found[i] = st, true
				return nil
			case fserror.Has(err, fserror.ErrNotFound), fserror.Has(err, fserror.ErrNotAFile):
				// vanished since readdir, or a symlink, fifo, socket...
				return nil
			default:
				return err
			}
		})
	}
	if err := g.Wait(); err != nil {
		return scanResult{err: err}
	}

	listing := make([]identity.Stat, 0, len(entries))
	for i := range stats {
		if found[i] {
			listing = append(listing, stats[i])
		}
	}

	after, err := os.Lstat(req.path)
	if err != nil {
		return scanResult{err: fserror.FromErrno("lstat", req.path, err)}
	}
	return scanResult{
		self:      self,
		listing:   listing,
		transient: after.ModTime().UnixMilli() != self.ModTime,
	}
}
