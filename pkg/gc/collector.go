// Package gc removes media records that no indexed file refers to any more.
//
// Media metadata is keyed by content hash and outlives the files it was
// extracted from: deleting the last copy of a photo, or editing it so that
// its hash changes, leaves the old record behind. The collector compares the
// hashes in the media store with the hashes the forest currently indexes and
// deletes the difference.
//
// Collection only runs while the forest is settled. During a scan or while
// files wait to be hashed the forest's hash index is incomplete, and records
// of files not yet hashed would wrongly look orphaned.
package gc

import (
	"context"
	"fmt"
	"time"

	"github.com/wisnuc/appifi-sub000/internal/logger"
	"github.com/wisnuc/appifi-sub000/pkg/media"
	"github.com/wisnuc/appifi-sub000/pkg/vfs"
)

// Index is the part of the forest the collector reads.
type Index interface {
	Stats(ctx context.Context) (vfs.Stats, error)
	Hashes(ctx context.Context) ([]string, error)
}

// Collector performs periodic garbage collection on a media store.
//
// Thread Safety: Safe for concurrent use.
type Collector struct {
	index  Index
	store  media.Store
	config Config
}

// Config contains configuration for the garbage collector.
type Config struct {
	// Interval is how often to run garbage collection (default: 1h)
	Interval time.Duration

	// BatchSize is how many orphaned records to delete before checking for
	// cancellation (default: 1000)
	BatchSize int

	// DryRun mode logs what would be deleted without actually deleting (default: false)
	DryRun bool
}

// NewCollector creates a new garbage collector. Call Run to start it.
func NewCollector(index Index, store media.Store, config Config) *Collector {
	if config.Interval == 0 {
		config.Interval = time.Hour
	}
	if config.BatchSize == 0 {
		config.BatchSize = 1000
	}
	return &Collector{index: index, store: store, config: config}
}

// Run collects every Interval until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) error {
	logger.Info("gc: collecting media records every %s (batch %d, dry run %v)",
		c.config.Interval, c.config.BatchSize, c.config.DryRun)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			stats, err := c.collect(ctx)
			switch {
			case err != nil && ctx.Err() == nil:
				logger.Error("gc: collection failed: %v", err)
			case stats.Skipped:
				logger.Debug("gc: forest not settled, skipped")
			case err == nil:
				logger.Info("gc: collection completed: %s", stats.Summary())
			}
		}
	}
}

// RunNow triggers an immediate collection and blocks until it completes or
// ctx is cancelled.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	logger.Info("gc: running collection (manual trigger)")
	return c.collect(ctx)
}

// collect performs a single collection run:
//  1. Skip unless the forest is settled
//  2. Get every hash the forest indexes
//  3. Get every hash in the media store
//  4. Delete store hashes the forest does not know
func (c *Collector) collect(ctx context.Context) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	defer func() { stats.EndTime = time.Now() }()

	fs, err := c.index.Stats(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to read forest state: %w", err)
	}
	if !fs.Settled() {
		stats.Skipped = true
		return stats, nil
	}

	referenced, err := c.index.Hashes(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to get indexed hashes: %w", err)
	}
	stats.ReferencedCount = uint64(len(referenced))

	referencedSet := make(map[string]struct{}, len(referenced))
	for _, h := range referenced {
		referencedSet[h] = struct{}{}
	}

	existing, err := c.store.Hashes(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list media records: %w", err)
	}
	stats.ExistingCount = uint64(len(existing))

	var orphaned []string
	for _, h := range existing {
		if _, ok := referencedSet[h]; !ok {
			orphaned = append(orphaned, h)
		}
	}
	stats.OrphanedCount = uint64(len(orphaned))

	if len(orphaned) == 0 {
		return stats, nil
	}

	if c.config.DryRun {
		logger.Info("gc: DRY RUN - would delete %d records:", stats.OrphanedCount)
		for i, h := range orphaned {
			if i == 10 {
				logger.Info("  ... and %d more", len(orphaned)-10)
				break
			}
			logger.Info("  - %s", h)
		}
		return stats, nil
	}

	for i, h := range orphaned {
		if i%c.config.BatchSize == 0 {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
		}
		if err := c.store.Delete(ctx, h); err != nil {
			logger.Debug("gc: failed to delete %s: %v", h, err)
			stats.FailedCount++
			continue
		}
		stats.DeletedCount++
	}

	return stats, nil
}

// Stats contains statistics from a garbage collection run.
type Stats struct {
	StartTime       time.Time // When collection started
	EndTime         time.Time // When collection ended
	Skipped         bool      // The forest was not settled
	ReferencedCount uint64    // Number of hashes indexed by the forest
	ExistingCount   uint64    // Number of records in the media store
	OrphanedCount   uint64    // Number of records no indexed file refers to
	DeletedCount    uint64    // Number of orphaned records deleted
	FailedCount     uint64    // Number of orphaned records that failed to delete
}

// Duration returns the total collection duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the collection.
func (s *Stats) Summary() string {
	return fmt.Sprintf("referenced=%d existing=%d orphaned=%d deleted=%d failed=%d duration=%s",
		s.ReferencedCount, s.ExistingCount, s.OrphanedCount,
		s.DeletedCount, s.FailedCount, s.Duration())
}
