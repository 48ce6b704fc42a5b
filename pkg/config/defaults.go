package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/wisnuc/appifi-sub000/pkg/vfs"
)

// DefaultRoot is where fruitmix keeps its data when nothing else is configured.
const DefaultRoot = "/var/lib/fruitmix"

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - Booleans are left alone so that an explicit false survives
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyStorageDefaults(&cfg.Storage)
	applyForestDefaults(&cfg.Forest)
	applyMediaDefaults(&cfg.Media, cfg.Storage.Root)

	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Root == "" {
		cfg.Root = DefaultRoot
	}
	if cfg.DrivesFile == "" {
		cfg.DrivesFile = filepath.Join(cfg.Root, "drives.json")
	}
	if cfg.TmpDir == "" {
		cfg.TmpDir = filepath.Join(cfg.Root, "tmp")
	}
}

// applyForestDefaults mirrors the defaults vfs.New would pick, so that a
// generated config file shows the effective values.
func applyForestDefaults(cfg *ForestConfig) {
	if cfg.DirReadConcurrency == 0 {
		cfg.DirReadConcurrency = vfs.DefaultDirReadConcurrency
	}
	if cfg.HashConcurrency == 0 {
		cfg.HashConcurrency = vfs.DefaultHashConcurrency
	}
	if cfg.StatConcurrency == 0 {
		cfg.StatConcurrency = vfs.DefaultStatConcurrency
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = vfs.DefaultRetryDelay
	}
	if cfg.MaxScanRetries == 0 {
		cfg.MaxScanRetries = vfs.DefaultMaxScanRetries
	}
	if cfg.HashRetries == 0 {
		cfg.HashRetries = vfs.DefaultHashRetries
	}
	if cfg.IndexPolicy == "" {
		cfg.IndexPolicy = string(vfs.IndexAll)
	}
	// HashRateLimit defaults to 0 (unlimited)
}

func applyMediaDefaults(cfg *MediaConfig, root string) {
	if cfg.Workers == 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Store.Type == "" {
		cfg.Store.Type = "memory"
	}
	if cfg.GC.Interval == 0 {
		cfg.GC.Interval = time.Hour
	}

	if cfg.Store.Badger == nil {
		cfg.Store.Badger = make(map[string]any)
	}
	// Filled in even for the memory store so that generated files show it
	if _, ok := cfg.Store.Badger["path"]; !ok {
		cfg.Store.Badger["path"] = filepath.Join(root, "media")
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Media: MediaConfig{
			Enabled: true,
			GC:      MediaGCConfig{Enabled: true},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
