package vfs

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/wisnuc/appifi-sub000/internal/logger"
	"github.com/wisnuc/appifi-sub000/pkg/fserror"
	"github.com/wisnuc/appifi-sub000/pkg/identity"
)

// ReadCallback receives the outcome of an explicit read: the full listing of
// the directory as found on disk, or an error.
type ReadCallback func(listing []identity.Stat, err error)

// Directory state variants. Each carries only the data valid in that state.
type (
	dirState interface{ String() string }

	dirInit struct{}

	dirIdle struct{}

	dirPending struct {
		timer *time.Timer // nil: stalled until explicitly read
		due   time.Time
	}

	dirReading struct {
		cancel    context.CancelFunc
		callbacks []ReadCallback

		// buffered while the scan is in flight
		again          bool
		againCallbacks []ReadCallback
		delay          time.Duration // 0: no delayed request buffered
	}
)

func (dirInit) String() string     { return "init" }
func (dirIdle) String() string     { return "idle" }
func (dirPending) String() string  { return "pending" }
func (*dirReading) String() string { return "reading" }

// Directory mirrors one on-disk directory.
type Directory struct {
	nodeBase

	// modTime is the mtime seen by the last completed scan, or neverScanned
	modTime int64

	// full makes the next scan list the directory even if modTime still
	// matches
	full bool

	children []node

	// names of regular files not tracked as File nodes (index policy media)
	untracked []string

	state     dirState
	failures  int
	destroyed bool
}

func newDirectory(f *Forest, parent *Directory, id uuid.UUID, name string) *Directory {
	d := &Directory{
		nodeBase: nodeBase{forest: f, id: id, name: name},
		modTime:  neverScanned,
	}
	f.registerDirectory(d)
	if parent != nil {
		attach(d, parent)
	}
	d.setState(dirInit{})
	if f.observer != nil {
		f.observer.DirectoryCreated(d.id, absPath(d))
	}
	return d
}

// setState leaves the current state, entering next. Working sets follow the
// state and the schedulers are re-armed.
func (d *Directory) setState(next dirState) {
	f := d.forest
	switch d.state.(type) {
	case dirInit:
		delete(f.initDirs, d)
	case *dirPending:
		delete(f.pendingDirs, d)
	case *dirReading:
		delete(f.readingDirs, d)
	}

	d.state = next

	switch next.(type) {
	case dirInit:
		f.initDirs[d] = struct{}{}
	case *dirPending:
		f.pendingDirs[d] = struct{}{}
	case *dirReading:
		f.readingDirs[d] = struct{}{}
	}
	f.requestSchedule()
}

// read requests an immediate scan. cb, if not nil, receives the listing.
func (d *Directory) read(cb ReadCallback) {
	if d.destroyed {
		if cb != nil {
			cb(nil, fserror.New(fserror.ErrNotFound, "", "directory %s destroyed", d.id))
		}
		return
	}

	var callbacks []ReadCallback
	if cb != nil {
		callbacks = append(callbacks, cb)
	}

	switch s := d.state.(type) {
	case *dirReading:
		s.again = true
		s.againCallbacks = append(s.againCallbacks, callbacks...)
	case *dirPending:
		if s.timer != nil {
			s.timer.Stop()
		}
		d.startReading(callbacks)
	default:
		d.startReading(callbacks)
	}
}

// readFull is read without the mtime short-circuit. Healing and change
// notifications use it: neither can rely on the directory mtime moving.
func (d *Directory) readFull(cb ReadCallback) {
	d.full = true
	d.read(cb)
}

// requestFullRead is requestRead without the mtime short-circuit.
func (d *Directory) requestFullRead(delay time.Duration) {
	d.full = true
	d.requestRead(delay)
}

// requestRead asks for a scan within delay. Multiple delayed requests
// collapse to the earliest deadline. A zero delay is an immediate read.
func (d *Directory) requestRead(delay time.Duration) {
	if d.destroyed {
		return
	}
	if delay <= 0 {
		d.read(nil)
		return
	}

	switch s := d.state.(type) {
	case *dirReading:
		if !s.again && (s.delay == 0 || delay < s.delay) {
			s.delay = delay
		}
	case *dirPending:
		due := time.Now().Add(delay)
		if s.timer == nil || due.Before(s.due) {
			d.enterPending(delay)
		}
	default:
		d.enterPending(delay)
	}
}

func (d *Directory) enterPending(delay time.Duration) {
	if s, ok := d.state.(*dirPending); ok && s.timer != nil {
		s.timer.Stop()
	}
	st := &dirPending{due: time.Now().Add(delay)}
	st.timer = time.AfterFunc(delay, func() {
		d.forest.post(func() {
			if d.state == dirState(st) {
				d.read(nil)
			}
		})
	})
	d.setState(st)
}

// stall parks the directory in pending without a timer.
func (d *Directory) stall() {
	if s, ok := d.state.(*dirPending); ok && s.timer != nil {
		s.timer.Stop()
	}
	d.setState(&dirPending{})
}

func (d *Directory) startReading(callbacks []ReadCallback) {
	f := d.forest
	ctx, cancel := context.WithCancel(f.ctx)
	st := &dirReading{cancel: cancel, callbacks: callbacks}
	d.setState(st)

	req := scanRequest{path: absPath(d), id: d.id, knownModTime: d.modTime}
	if len(callbacks) > 0 || d.full {
		req.knownModTime = neverScanned
	}
	d.full = false

	f.goWorker(func() {
		res := f.scanDirectory(ctx, req)
		f.post(func() { d.onScanned(st, req.path, res) })
	})
}

// onScanned consumes a scan result on the dispatch goroutine.
func (d *Directory) onScanned(st *dirReading, path string, res scanResult) {
	if d.destroyed || d.state != dirState(st) {
		return
	}
	st.cancel()

	err := res.err
	if err == nil && absPath(d) != path {
		err = fserror.New(fserror.ErrInterrupted, path, "directory moved during scan")
	}

	if err != nil {
		d.scanFailed(st, err)
		return
	}

	d.failures = 0
	d.modTime = res.self.ModTime
	if !res.unchanged {
		d.reconcile(res.listing)
	}
	for _, cb := range st.callbacks {
		cb(copyListing(res.listing), nil)
	}
	if d.destroyed {
		// a callback deleted the drive
		return
	}

	switch {
	case st.again:
		d.startReading(st.againCallbacks)
	case res.transient:
		delay := d.forest.opts.RetryDelay
		if st.delay > 0 && st.delay < delay {
			delay = st.delay
		}
		d.enterPending(delay)
	case st.delay > 0:
		d.enterPending(st.delay)
	default:
		d.setState(dirIdle{})
	}
}

// scanFailed settles a failed scan. Only the callers of the failed scan see
// the error; requests buffered while it ran get a scan of their own.
func (d *Directory) scanFailed(st *dirReading, err error) {
	f := d.forest
	callbacks := st.callbacks
	st.callbacks = nil
	for _, cb := range callbacks {
		cb(nil, err)
	}
	if d.destroyed {
		return
	}

	switch {
	case fserror.Has(err, fserror.ErrNotADirectory), fserror.Has(err, fserror.ErrIdentityMismatch),
		fserror.Has(err, fserror.ErrInterrupted), fserror.Has(err, fserror.ErrNotFound):
		logger.Debug("forest: directory %s (%s) out of date: %v", d.id, d.name, err)
		if d.parent != nil {
			d.parent.readFull(nil)
		}
		if d.destroyed {
			return
		}
		if st.again {
			d.startReading(st.againCallbacks)
			return
		}
		d.enterPending(f.opts.RetryDelay)

	case f.ctx.Err() != nil:
		// shutting down; destroy answers the buffered callers

	default:
		d.failures++
		if st.again {
			d.startReading(st.againCallbacks)
			return
		}
		if d.failures > f.opts.MaxScanRetries {
			logger.Warn("forest: directory %s (%s) stalled after %d failed scans: %v", d.id, d.name, d.failures, err)
			d.stall()
			return
		}
		logger.Debug("forest: scan of %s failed (%d/%d): %v", d.id, d.failures, f.opts.MaxScanRetries, err)
		d.enterPending(f.opts.RetryDelay)
	}
}

// reconcile makes children match listing.
func (d *Directory) reconcile(listing []identity.Stat) {
	f := d.forest
	byID := make(map[uuid.UUID]identity.Stat, len(listing))
	order := make([]uuid.UUID, 0, len(listing))
	var untracked []string
	var copies []identity.Stat
	for _, st := range listing {
		if st.IsFile() && !f.tracks(st) {
			untracked = append(untracked, st.Name)
			continue
		}
		prev, dup := byID[st.ID]
		if !dup {
			byID[st.ID] = st
			order = append(order, st.ID)
			continue
		}
		if st.IsFile() && prev.IsFile() && st.Ino == prev.Ino {
			// hard links share an id; the first name wins
			continue
		}
		// copied along with its xattr; the cached name keeps the id
		keep, extra := prev, st
		if c := d.child(st.Name); c != nil && c.base().id == st.ID {
			keep, extra = st, prev
		}
		byID[st.ID] = keep
		copies = append(copies, extra)
	}
	d.untracked = untracked
	if len(copies) > 0 {
		d.restamp(copies)
	}

	for _, child := range append([]node(nil), d.children...) {
		b := child.base()
		st, ok := byID[b.id]
		if !ok {
			child.destroy()
			continue
		}

		switch c := child.(type) {
		case *Directory:
			if !st.IsDir() {
				c.destroy()
				continue
			}
			delete(byID, b.id)
			if c.name != st.Name {
				c.rename(st.Name)
			}
			if c.modTime != neverScanned && c.modTime != st.ModTime {
				c.read(nil)
			}
		case *File:
			if !st.IsFile() || c.name != st.Name || c.hash != st.Hash || c.magic != st.Magic {
				c.destroy()
				continue
			}
			delete(byID, b.id)
		}
	}

	for _, id := range order {
		st, ok := byID[id]
		if !ok {
			continue
		}
		if st.IsDir() {
			if other, exists := f.dirs[id]; exists {
				if other.parent == nil {
					logger.Warn("forest: drive root %s found inside %s, ignoring", id, d.id)
					continue
				}
				d.claim(other, st)
				continue
			}
			newDirectory(f, d, st.ID, st.Name)
		} else {
			newFile(f, d, st)
		}
	}
}

// restamp gives entries that arrived with the id of a sibling a fresh id,
// then lists the directory again to pick them up. An entry that cannot be
// re-stamped stays out of the cache rather than looping.
func (d *Directory) restamp(entries []identity.Stat) {
	f := d.forest
	dir := absPath(d)
	f.goWorker(func() {
		reread := false
		for _, st := range entries {
			if restampCopy(filepath.Join(dir, st.Name), st.ID) {
				reread = true
			}
		}
		if reread {
			f.post(func() { d.readFull(nil) })
		}
	})
}

// claim settles a directory id found in d while another cached directory
// holds it. If the cached location still carries the id, the entry here is
// a copy and gets a fresh id; otherwise the directory moved here.
func (d *Directory) claim(other *Directory, st identity.Stat) {
	f := d.forest
	otherPath := absPath(other)
	path := filepath.Join(absPath(d), st.Name)
	if otherPath == path {
		return
	}
	f.goWorker(func() {
		ost, err := identity.ReadIdentifiedStat(otherPath)
		copied := err == nil && ost.IsDir() && ost.ID == st.ID
		if copied && !restampCopy(path, st.ID) {
			return
		}
		f.post(func() {
			if d.destroyed {
				return
			}
			if !copied && !other.destroyed && f.dirs[st.ID] == other {
				// moved here from a directory that has not been re-read yet
				other.destroy()
			}
			d.readFull(nil)
		})
	})
}

// restampCopy assigns path a fresh id if it still carries id. It returns
// false only when the entry keeps the duplicate id, so reading again would
// find the same collision. It runs on a worker goroutine.
func restampCopy(path string, id uuid.UUID) bool {
	cur, err := identity.ReadIdentifiedStat(path)
	if err != nil || cur.ID != id {
		return true
	}
	fresh, err := identity.ForceIdentity(path, identity.Force{ID: uuid.New()})
	if err != nil {
		logger.Warn("forest: %s duplicates id %s and cannot be re-stamped: %v", path, id, err)
		return false
	}
	logger.Info("forest: %s duplicated id %s, now %s", path, id, fresh.ID)
	return true
}

// rename changes the cached name and tells every file below that its path
// moved.
func (d *Directory) rename(name string) {
	d.name = name
	preVisit(d, func(n node) {
		if file, ok := n.(*File); ok {
			file.pathChanged()
		}
	})
}

func (d *Directory) destroy() {
	if d.destroyed {
		return
	}
	f := d.forest
	path := absPath(d)

	for _, c := range append([]node(nil), d.children...) {
		c.destroy()
	}

	switch s := d.state.(type) {
	case *dirPending:
		if s.timer != nil {
			s.timer.Stop()
		}
	case *dirReading:
		s.cancel()
		err := fserror.New(fserror.ErrNotFound, path, "directory destroyed")
		for _, cb := range append(s.callbacks, s.againCallbacks...) {
			cb(nil, err)
		}
	}
	d.setState(nil)
	d.destroyed = true
	f.unregisterDirectory(d)

	if d.parent != nil {
		detach(d)
	}
	if f.observer != nil {
		f.observer.DirectoryDestroyed(d.id, path)
	}
}

// child returns the child called name, or nil.
func (d *Directory) child(name string) node {
	for _, c := range d.children {
		if c.base().name == name {
			return c
		}
	}
	return nil
}

// childByName returns the child directory called name.
func (d *Directory) childByName(name string) *Directory {
	for _, c := range d.children {
		if sub, ok := c.(*Directory); ok && sub.name == name {
			return sub
		}
	}
	return nil
}

func (d *Directory) stateName() string {
	if d.state == nil {
		return "destroyed"
	}
	return d.state.String()
}

func copyListing(l []identity.Stat) []identity.Stat {
	if l == nil {
		return nil
	}
	return append([]identity.Stat(nil), l...)
}
