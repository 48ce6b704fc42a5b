package media

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wisnuc/appifi-sub000/internal/logger"
	"github.com/wisnuc/appifi-sub000/pkg/identity"
	"github.com/wisnuc/appifi-sub000/pkg/metrics"
)

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	// Workers is the number of concurrent extractions. Default: 1
	Workers int

	// QueueSize bounds the jobs waiting for a worker. Submissions beyond it
	// are dropped. Default: 1024
	QueueSize int

	// Extractor defaults to Extract.
	Extractor Extractor

	// Metrics defaults to a no-op recorder.
	Metrics metrics.MediaMetrics
}

type job struct {
	hash  string
	path  string
	magic identity.Magic
}

// Pipeline extracts metadata of submitted files into a Store. It implements
// vfs.MediaSink.
type Pipeline struct {
	store   Store
	extract Extractor
	metrics metrics.MediaMetrics
	workers int

	jobs chan job

	mu     sync.Mutex
	queued map[string]struct{}
}

// NewPipeline creates a pipeline writing into store. Call Run to start its
// workers.
func NewPipeline(store Store, cfg PipelineConfig) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Extractor == nil {
		cfg.Extractor = Extract
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopMediaMetrics()
	}
	return &Pipeline{
		store:   store,
		extract: cfg.Extractor,
		metrics: cfg.Metrics,
		workers: cfg.Workers,
		jobs:    make(chan job, cfg.QueueSize),
		queued:  make(map[string]struct{}),
	}
}

// Submit queues a file for extraction without blocking. A hash already
// queued is ignored, and so is a submission to a full queue.
func (p *Pipeline) Submit(hash, path string, magic identity.Magic) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.queued[hash]; ok {
		return
	}
	select {
	case p.jobs <- job{hash: hash, path: path, magic: magic}:
		p.queued[hash] = struct{}{}
	default:
		p.metrics.RecordDropped()
		logger.Debug("media: queue full, dropped %s (%s)", hash, path)
	}
	p.metrics.SetQueueDepth(len(p.jobs))
}

// Get returns the metadata recorded for hash.
func (p *Pipeline) Get(ctx context.Context, hash string) (*Metadata, error) {
	return p.store.Get(ctx, hash)
}

// Run processes jobs until ctx is cancelled and every worker has returned.
func (p *Pipeline) Run(ctx context.Context) error {
	logger.Info("media: pipeline running with %d workers", p.workers)
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx)
		}()
	}
	wg.Wait()
	return nil
}

func (p *Pipeline) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-p.jobs:
			p.metrics.SetQueueDepth(len(p.jobs))
			p.process(ctx, j)
			p.mu.Lock()
			delete(p.queued, j.hash)
			p.mu.Unlock()
		}
	}
}

func (p *Pipeline) process(ctx context.Context, j job) {
	if _, err := p.store.Get(ctx, j.hash); err == nil {
		return
	} else if !errors.Is(err, ErrNotFound) {
		logger.Warn("media: lookup %s: %v", j.hash, err)
		return
	}

	start := time.Now()
	md, err := p.extract(j.path, j.magic)
	p.metrics.RecordExtraction(j.magic.String(), time.Since(start), err)
	if err != nil {
		// the file may have moved; the next time it is hashed it comes back
		logger.Debug("media: extract %s (%s): %v", j.hash, j.path, err)
		return
	}

	md.Hash = j.hash
	md.ExtractedAt = time.Now().UTC()
	if err := p.store.Put(ctx, md); err != nil {
		logger.Warn("media: store %s: %v", j.hash, err)
		return
	}
	logger.Debug("media: extracted %s %s %dx%d", j.magic, j.hash, md.Width, md.Height)
}
