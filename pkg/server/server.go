package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wisnuc/appifi-sub000/internal/logger"
	"github.com/wisnuc/appifi-sub000/pkg/config"
	"github.com/wisnuc/appifi-sub000/pkg/drive"
	"github.com/wisnuc/appifi-sub000/pkg/fserror"
	"github.com/wisnuc/appifi-sub000/pkg/gc"
	"github.com/wisnuc/appifi-sub000/pkg/media"
	"github.com/wisnuc/appifi-sub000/pkg/vfs"
	"github.com/wisnuc/appifi-sub000/pkg/watch"
)

// Server manages the lifecycle of the forest and the components that feed
// off it: the media pipeline and its collector, the change watcher and the
// metrics endpoint.
//
// Architecture:
// The drive list decides which roots the forest holds. Hashed media files
// flow from the forest to the pipeline; directory lifecycle events flow from
// the forest to the watcher, and change events flow back from the watcher to
// the forest as delayed reads.
//
// Lifecycle:
//  1. Creation: New() opens the drive list and builds every component
//  2. Startup: Serve() runs the components and mounts one root per drive
//  3. Shutdown: Context cancellation stops all components; Serve() waits at
//     most ShutdownTimeout for them
//
// Thread safety:
// AddDrive, RemoveDrive, SyncDrives and Status are safe for concurrent use
// while Serve is running. Serve must only be called once.
//
// Example usage:
//
//	srv, err := server.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//	if err := srv.Serve(ctx); err != nil {
//	    log.Fatal(err)
//	}
type Server struct {
	cfg *config.Config

	drives *drive.Store
	forest *vfs.Forest

	// mediaStore and pipeline are nil when media is disabled, collector
	// also when media gc is
	mediaStore media.Store
	pipeline   *media.Pipeline
	collector  *gc.Collector

	// watcher is nil when watching is disabled
	watcher *watch.Watcher

	metrics *config.MetricsResult

	// syncMu serializes SyncDrives so that concurrent calls do not race on
	// the set of roots
	syncMu sync.Mutex

	serveOnce sync.Once
}

// Status is the JSON document served on /status.
type Status struct {
	Drives       int       `json:"drives"`
	Forest       vfs.Stats `json:"forest"`
	MediaRecords int       `json:"media_records"`
}

// New builds a Server from cfg. It creates the storage directories, loads
// the drive list and opens the media store, but starts nothing.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	for _, dir := range []string{cfg.Storage.Root, cfg.Storage.DrivesDir(), cfg.Storage.TmpDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fserror.FromErrno("mkdir", dir, err)
		}
	}

	drives, err := drive.Open(cfg.Storage.DrivesPath())
	if err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg, drives: drives}
	s.metrics = config.InitializeMetrics(cfg, func(ctx context.Context) (any, error) {
		return s.Status(ctx)
	})

	options := []vfs.Option{vfs.WithMetrics(s.metrics.Forest)}

	if cfg.Media.Enabled {
		store, err := config.CreateMediaStore(ctx, cfg.Media.Store)
		if err != nil {
			return nil, err
		}
		s.mediaStore = store
		s.pipeline = media.NewPipeline(store, media.PipelineConfig{
			Workers:   cfg.Media.Workers,
			QueueSize: cfg.Media.QueueSize,
			Metrics:   s.metrics.Media,
		})
		options = append(options, vfs.WithMediaSink(s.pipeline))
	}

	if cfg.Watch.Enabled {
		w, err := watch.New(cfg.Watch.Debounce)
		if err != nil {
			s.closeMediaStore()
			return nil, fmt.Errorf("failed to create watcher: %w", err)
		}
		s.watcher = w
		options = append(options, vfs.WithDirectoryObserver(w))
	}

	s.forest = vfs.New(cfg.Forest.Options(cfg.Storage.DrivesDir()), options...)

	if s.mediaStore != nil && cfg.Media.GC.Enabled {
		s.collector = gc.NewCollector(s.forest, s.mediaStore, gc.Config{
			Interval: cfg.Media.GC.Interval,
			DryRun:   cfg.Media.GC.DryRun,
		})
	}
	return s, nil
}

// Forest returns the directory cache.
func (s *Server) Forest() *vfs.Forest { return s.forest }

// Drives returns the drive list.
func (s *Server) Drives() *drive.Store { return s.drives }

// Media returns the media store, or nil when media is disabled.
func (s *Server) Media() media.Store { return s.mediaStore }

// Serve runs every component until ctx is cancelled or one of them fails.
//
// Returns:
//   - nil on graceful shutdown
//   - the first component error otherwise
//   - an error if the components do not stop within ShutdownTimeout
//
// Calling Serve a second time returns an error.
func (s *Server) Serve(ctx context.Context) error {
	err := errors.New("server: Serve already called")
	s.serveOnce.Do(func() {
		err = s.serve(ctx)
	})
	return err
}

func (s *Server) serve(ctx context.Context) error {
	defer s.closeMediaStore()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.forest.Run(gctx) })
	if s.pipeline != nil {
		g.Go(func() error { return s.pipeline.Run(gctx) })
	}
	if s.collector != nil {
		g.Go(func() error { return s.collector.Run(gctx) })
	}
	if s.watcher != nil {
		g.Go(func() error { return s.watcher.Run(gctx, s.forest) })
	}
	if s.metrics.Server != nil {
		g.Go(func() error { return s.metrics.Server.Start(gctx) })
	}
	g.Go(func() error {
		if err := s.SyncDrives(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("mount drives: %w", err)
		}
		return nil
	})

	logger.Info("server: serving %s (media %t, watch %t, metrics %t)",
		s.cfg.Storage.Root, s.pipeline != nil, s.watcher != nil, s.metrics.Server != nil)

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return s.stopped(err)
	case <-gctx.Done():
	}

	logger.Info("server: shutting down")
	timer := time.NewTimer(s.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return s.stopped(err)
	case <-timer.C:
		return fmt.Errorf("server: components did not stop within %v", s.cfg.ShutdownTimeout)
	}
}

func (s *Server) stopped(err error) error {
	if err != nil {
		logger.Error("server: stopped with error: %v", err)
		return err
	}
	logger.Info("server: stopped")
	return nil
}

func (s *Server) closeMediaStore() {
	if s.mediaStore == nil {
		return
	}
	if err := s.mediaStore.Close(); err != nil {
		logger.Warn("server: closing media store: %v", err)
	}
}

// SyncDrives makes the forest roots match the drive list: every listed drive
// gets a root, and roots of drives no longer listed are deleted.
func (s *Server) SyncDrives(ctx context.Context) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	snap := s.drives.Snapshot()
	listed := make(map[uuid.UUID]bool, len(snap.Drives))
	for _, d := range snap.Drives {
		listed[d.ID] = true
		if _, err := s.forest.CreateRoot(ctx, d.ID); err != nil {
			return fmt.Errorf("drive %s: %w", d.ID, err)
		}
	}

	roots, err := s.forest.Roots(ctx)
	if err != nil {
		return err
	}
	for _, id := range roots {
		if listed[id] {
			continue
		}
		if err := s.forest.DeleteRoot(ctx, id); err != nil && !fserror.Has(err, fserror.ErrNotFound) {
			return fmt.Errorf("drive %s: %w", id, err)
		}
	}

	logger.Debug("server: %d drives mounted", len(snap.Drives))
	return nil
}

// AddDrive appends d to the drive list and mounts it.
func (s *Server) AddDrive(ctx context.Context, d drive.Drive) error {
	if err := s.drives.Add(ctx, d); err != nil {
		return err
	}
	logger.Info("server: added %s drive %s", d.Kind, d.ID)
	return s.SyncDrives(ctx)
}

// RemoveDrive removes a drive from the list and from the forest. Its files
// stay on disk.
func (s *Server) RemoveDrive(ctx context.Context, id uuid.UUID) error {
	if err := s.drives.Remove(ctx, id); err != nil {
		return err
	}
	logger.Info("server: removed drive %s", id)
	return s.SyncDrives(ctx)
}

// Status reports drive count, forest working sets and, when media is
// enabled, the number of media records.
func (s *Server) Status(ctx context.Context) (Status, error) {
	stats, err := s.forest.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		Drives: len(s.drives.Snapshot().Drives),
		Forest: stats,
	}
	if s.mediaStore != nil {
		if st.MediaRecords, err = s.mediaStore.Count(ctx); err != nil {
			return Status{}, err
		}
	}
	return st, nil
}
