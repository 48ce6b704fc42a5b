package vfs

import (
	"time"

	"github.com/google/uuid"

	"github.com/wisnuc/appifi-sub000/internal/ratelimiter"
	"github.com/wisnuc/appifi-sub000/pkg/identity"
	"github.com/wisnuc/appifi-sub000/pkg/metrics"
)

// IndexPolicy selects which regular files become File nodes.
type IndexPolicy string

const (
	// IndexAll tracks every regular file as a File node.
	IndexAll IndexPolicy = "all"

	// IndexMedia tracks only files whose magic is a media tag; other files
	// are remembered by name.
	IndexMedia IndexPolicy = "media"
)

// Defaults applied by New to zero Options fields.
const (
	DefaultDirReadConcurrency = 6
	DefaultHashConcurrency    = 2
	DefaultStatConcurrency    = 16
	DefaultRetryDelay         = time.Second
	DefaultMaxScanRetries     = 3
	DefaultHashRetries        = 5
)

// Options configures a Forest.
type Options struct {
	// DrivesDir holds one directory per drive, named by the drive id.
	DrivesDir string

	// DirReadConcurrency caps directory scans, both scheduler promotions out
	// of init and scans touching the disk. Default: 6
	DirReadConcurrency int

	// HashConcurrency caps file hash computations. Default: 2
	HashConcurrency int

	// StatConcurrency caps per-scan child stats. Default: 16
	StatConcurrency int

	// RetryDelay is the backoff before re-reading a directory whose scan
	// failed or was transient. Default: 1s
	RetryDelay time.Duration

	// MaxScanRetries is the number of consecutive failed scans after which a
	// directory stays pending until explicitly read. Default: 3
	MaxScanRetries int

	// HashRetries is the number of failed hash attempts after which a file
	// moves to HashFailed. Default: 5
	HashRetries int

	// IndexPolicy defaults to IndexAll.
	IndexPolicy IndexPolicy

	// HashLimiter throttles hashing reads. nil means unlimited.
	HashLimiter *ratelimiter.ByteLimiter
}

func (o *Options) applyDefaults() {
	if o.DirReadConcurrency <= 0 {
		o.DirReadConcurrency = DefaultDirReadConcurrency
	}
	if o.HashConcurrency <= 0 {
		o.HashConcurrency = DefaultHashConcurrency
	}
	if o.StatConcurrency <= 0 {
		o.StatConcurrency = DefaultStatConcurrency
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.MaxScanRetries <= 0 {
		o.MaxScanRetries = DefaultMaxScanRetries
	}
	if o.HashRetries <= 0 {
		o.HashRetries = DefaultHashRetries
	}
	if o.IndexPolicy == "" {
		o.IndexPolicy = IndexAll
	}
}

// MediaSink receives every file that reaches Hashed with a media magic.
// Submit is called on the dispatch goroutine and must not block.
type MediaSink interface {
	Submit(hash, path string, magic identity.Magic)
}

// DirectoryObserver learns about directories entering and leaving the
// forest. Its methods are called on the dispatch goroutine and must not
// block.
type DirectoryObserver interface {
	DirectoryCreated(id uuid.UUID, path string)
	DirectoryDestroyed(id uuid.UUID, path string)
}

// Option customizes a Forest beyond Options.
type Option func(*Forest)

// WithMetrics sets the metrics sink. nil keeps the no-op default.
func WithMetrics(m metrics.ForestMetrics) Option {
	return func(f *Forest) {
		if m != nil {
			f.metrics = m
		}
	}
}

// WithMediaSink forwards hashed media files to sink.
func WithMediaSink(sink MediaSink) Option {
	return func(f *Forest) { f.media = sink }
}

// WithDirectoryObserver registers obs for directory lifecycle events.
func WithDirectoryObserver(obs DirectoryObserver) Option {
	return func(f *Forest) { f.observer = obs }
}
