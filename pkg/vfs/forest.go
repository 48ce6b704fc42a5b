// Package vfs keeps an in-memory mirror of every drive's directory tree.
//
// A Forest owns one root Directory per drive. Directories re-scan themselves
// on request and reconcile their children against the disk; files compute
// their content fingerprint in the background. Nodes are addressed by the
// stable ids recorded in their identity xattr, so a directory can be found
// after it has been renamed or moved.
//
// All tree state is owned by a single dispatch goroutine started by Run.
// Public methods may be called from any goroutine: they post work to the
// dispatch goroutine, wait for it, and return copies. Disk I/O runs on worker
// goroutines bounded by semaphores, and its results are posted back.
package vfs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/wisnuc/appifi-sub000/internal/logger"
	"github.com/wisnuc/appifi-sub000/internal/ratelimiter"
	"github.com/wisnuc/appifi-sub000/pkg/fingerprint"
	"github.com/wisnuc/appifi-sub000/pkg/fserror"
	"github.com/wisnuc/appifi-sub000/pkg/identity"
	"github.com/wisnuc/appifi-sub000/pkg/metrics"
)

// Forest is the cache of all drives.
type Forest struct {
	opts     Options
	metrics  metrics.ForestMetrics
	media    MediaSink
	observer DirectoryObserver

	qmu     sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
	workers sync.WaitGroup

	scanSem *semaphore.Weighted
	hashSem *semaphore.Weighted

	// hashGate, when set, holds every hash worker after it takes its slot
	hashGate <-chan struct{}

	// disk access of the workers; tests swap these before the first root
	readDir     func(name string) ([]os.DirEntry, error)
	fingerprint func(ctx context.Context, path string, limiter *ratelimiter.ByteLimiter) (string, error)

	// owned by the dispatch goroutine
	ctx       context.Context
	scheduled bool
	roots     map[uuid.UUID]*Directory
	dirs      map[uuid.UUID]*Directory
	hashes    map[string]map[*File]struct{}

	initDirs    map[*Directory]struct{}
	pendingDirs map[*Directory]struct{}
	readingDirs map[*Directory]struct{}

	hashlessFiles map[*File]struct{}
	hashingFiles  map[*File]struct{}
	failedFiles   map[*File]struct{}
}

// New creates a Forest. Call Run to start it.
func New(opts Options, options ...Option) *Forest {
	opts.applyDefaults()
	f := &Forest{
		opts:    opts,
		metrics: metrics.NewNoopForestMetrics(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		scanSem: semaphore.NewWeighted(int64(opts.DirReadConcurrency)),
		hashSem: semaphore.NewWeighted(int64(opts.HashConcurrency)),

		readDir:     os.ReadDir,
		fingerprint: fingerprint.File,

		roots:         make(map[uuid.UUID]*Directory),
		dirs:          make(map[uuid.UUID]*Directory),
		hashes:        make(map[string]map[*File]struct{}),
		initDirs:      make(map[*Directory]struct{}),
		pendingDirs:   make(map[*Directory]struct{}),
		readingDirs:   make(map[*Directory]struct{}),
		hashlessFiles: make(map[*File]struct{}),
		hashingFiles:  make(map[*File]struct{}),
		failedFiles:   make(map[*File]struct{}),
	}
	for _, o := range options {
		o(f)
	}
	return f
}

// Options returns the effective options.
func (f *Forest) Options() Options { return f.opts }

// Run drives the forest until ctx is cancelled. It returns after every
// worker has stopped.
func (f *Forest) Run(ctx context.Context) error {
	first := false
	f.once.Do(func() { first = true })
	if !first {
		return errors.New("vfs: forest already running")
	}

	f.ctx = ctx
	logger.Info("forest: running (drives %s, %d scans, %d hashes, index %s)",
		f.opts.DrivesDir, f.opts.DirReadConcurrency, f.opts.HashConcurrency, f.opts.IndexPolicy)

	defer func() {
		close(f.done)
		f.workers.Wait()
		logger.Info("forest: stopped")
	}()

	for {
		f.drain()
		select {
		case <-ctx.Done():
			for _, root := range f.roots {
				root.destroy()
			}
			return nil
		case <-f.wake:
		}
	}
}

// requestSchedule arms one scheduling pass on the next drain. Any number of
// requests before that pass collapse into it.
func (f *Forest) requestSchedule() {
	if f.scheduled {
		return
	}
	f.scheduled = true
	f.post(f.schedule)
}

// schedule promotes init directories to reading and hashless files to
// hashing up to the concurrency caps.
func (f *Forest) schedule() {
	for len(f.readingDirs) < f.opts.DirReadConcurrency && len(f.initDirs) > 0 {
		for d := range f.initDirs {
			d.read(nil)
			break
		}
	}
	for len(f.hashingFiles) < f.opts.HashConcurrency && len(f.hashlessFiles) > 0 {
		for file := range f.hashlessFiles {
			file.startHashing()
			break
		}
	}

	f.metrics.SetWorkingSet("init", len(f.initDirs))
	f.metrics.SetWorkingSet("pending", len(f.pendingDirs))
	f.metrics.SetWorkingSet("reading", len(f.readingDirs))
	f.metrics.SetWorkingSet("hashless", len(f.hashlessFiles))
	f.metrics.SetWorkingSet("hashing", len(f.hashingFiles))
	f.metrics.SetWorkingSet("failed", len(f.failedFiles))

	// transitions above re-requested a pass that would find nothing to do
	f.scheduled = false
}

func (f *Forest) registerDirectory(d *Directory) {
	if _, exists := f.dirs[d.id]; exists {
		panic("vfs: duplicate directory id " + d.id.String())
	}
	f.dirs[d.id] = d
}

func (f *Forest) unregisterDirectory(d *Directory) {
	if f.dirs[d.id] == d {
		delete(f.dirs, d.id)
	}
}

func (f *Forest) indexHash(file *File) {
	set := f.hashes[file.hash]
	if set == nil {
		set = make(map[*File]struct{})
		f.hashes[file.hash] = set
	}
	set[file] = struct{}{}
}

func (f *Forest) unindexHash(file *File) {
	set := f.hashes[file.hash]
	delete(set, file)
	if len(set) == 0 {
		delete(f.hashes, file.hash)
	}
}

// tracks reports whether a file becomes a File node under the index policy.
func (f *Forest) tracks(st identity.Stat) bool {
	return f.opts.IndexPolicy != IndexMedia || st.Magic.IsMedia()
}

// DrivePath returns the on-disk root of a drive.
func (f *Forest) DrivePath(driveID uuid.UUID) string {
	return filepath.Join(f.opts.DrivesDir, driveID.String())
}

// DirInfo is a snapshot of one cached directory.
type DirInfo struct {
	ID       uuid.UUID
	DriveID  uuid.UUID
	Name     string
	Path     string
	State    string
	ModTime  int64
	Children int
}

func (d *Directory) info() DirInfo {
	info := DirInfo{
		ID:       d.id,
		Name:     d.name,
		Path:     absPath(d),
		State:    d.stateName(),
		ModTime:  d.modTime,
		Children: len(d.children) + len(d.untracked),
	}
	if root := rootOf(d); root != nil {
		info.DriveID = root.id
	}
	return info
}

// NodeInfo is a snapshot of one cached child.
type NodeInfo struct {
	ID    uuid.UUID
	Type  identity.EntryType
	Name  string
	Hash  string
	Magic identity.Magic
	State string
}

// CreateRoot creates the drive directory if needed, stamps it with the drive
// id and registers it as a root. The first read is started immediately.
func (f *Forest) CreateRoot(ctx context.Context, driveID uuid.UUID) (DirInfo, error) {
	path := f.DrivePath(driveID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return DirInfo{}, fserror.FromErrno("mkdir", path, err)
	}
	if _, err := identity.ForceIdentity(path, identity.Force{ID: driveID}); err != nil {
		return DirInfo{}, err
	}

	var info DirInfo
	var cerr error
	err := f.call(ctx, func() {
		if root, ok := f.roots[driveID]; ok {
			info = root.info()
			return
		}
		if d, ok := f.dirs[driveID]; ok {
			cerr = fserror.New(fserror.ErrConflict, path, "drive id already in use by %s", absPath(d))
			return
		}
		root := newDirectory(f, nil, driveID, driveID.String())
		f.roots[driveID] = root
		root.read(nil)
		info = root.info()
	})
	if err != nil {
		return DirInfo{}, err
	}
	return info, cerr
}

// DeleteRoot forgets a drive. The disk is untouched.
func (f *Forest) DeleteRoot(ctx context.Context, driveID uuid.UUID) error {
	var cerr error
	err := f.call(ctx, func() {
		root, ok := f.roots[driveID]
		if !ok {
			cerr = fserror.New(fserror.ErrNotFound, "", "drive %s", driveID)
			return
		}
		delete(f.roots, driveID)
		root.destroy()
	})
	if err != nil {
		return err
	}
	return cerr
}

// Roots lists the registered drive ids.
func (f *Forest) Roots(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := f.call(ctx, func() {
		for id := range f.roots {
			ids = append(ids, id)
		}
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, err
}

// Read scans a directory now and returns its full listing. Children are
// reconciled before Read returns.
func (f *Forest) Read(ctx context.Context, dirID uuid.UUID) ([]identity.Stat, error) {
	type outcome struct {
		listing []identity.Stat
		err     error
	}
	result := make(chan outcome, 1)
	err := f.call(ctx, func() {
		d, ok := f.dirs[dirID]
		if !ok {
			result <- outcome{err: fserror.New(fserror.ErrNotFound, "", "directory %s", dirID)}
			return
		}
		d.read(func(listing []identity.Stat, err error) {
			result <- outcome{listing, err}
		})
	})
	if err != nil {
		return nil, err
	}

	select {
	case r := <-result:
		return r.listing, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.done:
		return nil, fserror.New(fserror.ErrClosed, "", "forest stopped")
	}
}

// RequestRead schedules a scan of a directory within delay without waiting
// for it. A zero delay reads immediately.
func (f *Forest) RequestRead(ctx context.Context, dirID uuid.UUID, delay time.Duration) error {
	var cerr error
	err := f.call(ctx, func() {
		d, ok := f.dirs[dirID]
		if !ok {
			cerr = fserror.New(fserror.ErrNotFound, "", "directory %s", dirID)
			return
		}
		d.requestRead(delay)
	})
	if err != nil {
		return err
	}
	return cerr
}

// DirectoryByID returns a snapshot of a cached directory.
func (f *Forest) DirectoryByID(ctx context.Context, dirID uuid.UUID) (DirInfo, error) {
	var info DirInfo
	var cerr error
	err := f.call(ctx, func() {
		d, ok := f.dirs[dirID]
		if !ok {
			cerr = fserror.New(fserror.ErrNotFound, "", "directory %s", dirID)
			return
		}
		info = d.info()
	})
	if err != nil {
		return DirInfo{}, err
	}
	return info, cerr
}

// Children returns the cached children of a directory, sub-directories
// first, each group by name.
func (f *Forest) Children(ctx context.Context, dirID uuid.UUID) ([]NodeInfo, error) {
	var out []NodeInfo
	var cerr error
	err := f.call(ctx, func() {
		d, ok := f.dirs[dirID]
		if !ok {
			cerr = fserror.New(fserror.ErrNotFound, "", "directory %s", dirID)
			return
		}
		for _, c := range d.children {
			switch n := c.(type) {
			case *Directory:
				out = append(out, NodeInfo{ID: n.id, Type: identity.TypeDirectory, Name: n.name, State: n.stateName()})
			case *File:
				out = append(out, NodeInfo{ID: n.id, Type: identity.TypeFile, Name: n.name, Hash: n.hash, Magic: n.magic, State: n.state.String()})
			}
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type == identity.TypeDirectory
		}
		return out[i].Name < out[j].Name
	})
	return out, cerr
}

// FilePathsByHash returns the absolute path of every indexed file with hash.
func (f *Forest) FilePathsByHash(ctx context.Context, hash string) ([]string, error) {
	var paths []string
	err := f.call(ctx, func() {
		for file := range f.hashes[hash] {
			paths = append(paths, absPath(file))
		}
	})
	sort.Strings(paths)
	return paths, err
}

// Hashes lists every hash held by at least one indexed file.
func (f *Forest) Hashes(ctx context.Context) ([]string, error) {
	var hashes []string
	err := f.call(ctx, func() {
		hashes = make([]string, 0, len(f.hashes))
		for h := range f.hashes {
			hashes = append(hashes, h)
		}
	})
	sort.Strings(hashes)
	return hashes, err
}

// PathOf returns the absolute path of dirID, provided it is reachable from
// the root of driveID. A directory of another drive is reported as not found.
func (f *Forest) PathOf(ctx context.Context, driveID, dirID uuid.UUID) (string, error) {
	var path string
	var cerr error
	err := f.call(ctx, func() {
		root, ok := f.roots[driveID]
		if !ok {
			cerr = fserror.New(fserror.ErrNotFound, "", "drive %s", driveID)
			return
		}
		d, ok := f.dirs[dirID]
		if !ok || rootOf(d) != root {
			cerr = fserror.New(fserror.ErrNotFound, "", "directory %s not in drive %s", dirID, driveID)
			return
		}
		path = absPath(d)
	})
	if err != nil {
		return "", err
	}
	return path, cerr
}

// NotifyPath reports that something under path changed. The deepest cached
// directory on path is asked for a full listing within delay: a file
// rewritten in place leaves the directory mtime alone. Paths outside the
// drives directory are ignored.
func (f *Forest) NotifyPath(ctx context.Context, path string, delay time.Duration) error {
	rel, err := filepath.Rel(f.opts.DrivesDir, filepath.Clean(path))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return nil
	}
	parts := strings.Split(rel, string(filepath.Separator))
	driveID, err := uuid.Parse(parts[0])
	if err != nil {
		return nil
	}

	return f.call(ctx, func() {
		d, ok := f.roots[driveID]
		if !ok {
			return
		}
		for _, name := range parts[1:] {
			sub := d.childByName(name)
			if sub == nil {
				break
			}
			d = sub
		}
		d.requestFullRead(delay)
	})
}

// ResetFailedHashes makes every file in HashFailed eligible for hashing
// again and returns how many there were.
func (f *Forest) ResetFailedHashes(ctx context.Context) (int, error) {
	n := 0
	err := f.call(ctx, func() {
		for file := range f.failedFiles {
			if file.resetFailed() {
				n++
			}
		}
	})
	return n, err
}

// Stats is a snapshot of the forest's indices and working sets.
type Stats struct {
	Drives      int
	Directories int
	HashedFiles int
	Hashes      int

	InitDirs    int
	PendingDirs int
	ReadingDirs int

	HashlessFiles int
	HashingFiles  int
	FailedFiles   int
}

// Stats returns the current sizes of every index and working set.
func (f *Forest) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := f.call(ctx, func() {
		s = Stats{
			Drives:        len(f.roots),
			Directories:   len(f.dirs),
			Hashes:        len(f.hashes),
			InitDirs:      len(f.initDirs),
			PendingDirs:   len(f.pendingDirs),
			ReadingDirs:   len(f.readingDirs),
			HashlessFiles: len(f.hashlessFiles),
			HashingFiles:  len(f.hashingFiles),
			FailedFiles:   len(f.failedFiles),
		}
		for _, set := range f.hashes {
			s.HashedFiles += len(set)
		}
	})
	return s, err
}

// Settled reports whether no directory is waiting to be read and no file is
// waiting to be hashed.
func (s Stats) Settled() bool {
	return s.InitDirs == 0 && s.PendingDirs == 0 && s.ReadingDirs == 0 &&
		s.HashlessFiles == 0 && s.HashingFiles == 0
}
