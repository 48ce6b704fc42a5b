package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/wisnuc/appifi-sub000/internal/ratelimiter"
	"github.com/wisnuc/appifi-sub000/pkg/vfs"
)

// Config represents the complete fruitmix configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (FRUITMIX_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Storage locates the drives and the drive list on disk
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Forest tunes the directory cache and its schedulers
	Forest ForestConfig `mapstructure:"forest" yaml:"forest"`

	// Media configures the media metadata pipeline
	Media MediaConfig `mapstructure:"media" yaml:"media"`

	// Watch configures inotify change notifications
	Watch WatchConfig `mapstructure:"watch" yaml:"watch"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// StorageConfig locates fruitmix data on disk.
type StorageConfig struct {
	// Root holds drives/, tmp/ and drives.json unless overridden below
	Root string `mapstructure:"root" yaml:"root" validate:"required"`

	// DrivesFile overrides the drive list location (default: <root>/drives.json)
	DrivesFile string `mapstructure:"drives_file" yaml:"drives_file"`

	// TmpDir overrides the scratch directory (default: <root>/tmp). It must be
	// on the same filesystem as the drives.
	TmpDir string `mapstructure:"tmp_dir" yaml:"tmp_dir"`
}

// DrivesDir is the directory holding one sub-directory per drive.
func (s StorageConfig) DrivesDir() string { return filepath.Join(s.Root, "drives") }

// DrivesPath is the drive list location with the default applied.
func (s StorageConfig) DrivesPath() string {
	if s.DrivesFile != "" {
		return s.DrivesFile
	}
	return filepath.Join(s.Root, "drives.json")
}

// ForestConfig tunes the forest. Zero values take the forest defaults.
type ForestConfig struct {
	DirReadConcurrency int           `mapstructure:"dir_read_concurrency" yaml:"dir_read_concurrency" validate:"gte=1"`
	HashConcurrency    int           `mapstructure:"hash_concurrency" yaml:"hash_concurrency" validate:"gte=1"`
	StatConcurrency    int           `mapstructure:"stat_concurrency" yaml:"stat_concurrency" validate:"gte=1"`
	RetryDelay         time.Duration `mapstructure:"retry_delay" yaml:"retry_delay" validate:"gt=0"`
	MaxScanRetries     int           `mapstructure:"max_scan_retries" yaml:"max_scan_retries" validate:"gte=1"`
	HashRetries        int           `mapstructure:"hash_retries" yaml:"hash_retries" validate:"gte=1"`

	// IndexPolicy is "all" or "media"
	IndexPolicy string `mapstructure:"index_policy" yaml:"index_policy" validate:"required,oneof=all media"`

	// HashRateLimit caps hashing reads in bytes per second, 0 = unlimited
	HashRateLimit int64 `mapstructure:"hash_rate_limit" yaml:"hash_rate_limit" validate:"gte=0"`
}

// MediaConfig configures the media pipeline.
type MediaConfig struct {
	Enabled   bool             `mapstructure:"enabled" yaml:"enabled"`
	Workers   int              `mapstructure:"workers" yaml:"workers" validate:"gte=1"`
	QueueSize int              `mapstructure:"queue_size" yaml:"queue_size" validate:"gte=1"`
	Store     MediaStoreConfig `mapstructure:"store" yaml:"store"`
	GC        MediaGCConfig    `mapstructure:"gc" yaml:"gc"`
}

// MediaGCConfig configures removal of media records no indexed file refers to.
type MediaGCConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"gt=0"`

	// DryRun logs orphaned records without deleting them
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`
}

// MediaStoreConfig selects the media metadata store.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type MediaStoreConfig struct {
	// Type specifies which store implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`
}

// WatchConfig configures inotify change notifications.
type WatchConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Debounce is the delay before a changed directory is re-read
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce" validate:"gte=0"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port" validate:"gte=0,lte=65535"`
}

// Options converts the section into forest options.
func (c ForestConfig) Options(drivesDir string) vfs.Options {
	return vfs.Options{
		DrivesDir:          drivesDir,
		DirReadConcurrency: c.DirReadConcurrency,
		HashConcurrency:    c.HashConcurrency,
		StatConcurrency:    c.StatConcurrency,
		RetryDelay:         c.RetryDelay,
		MaxScanRetries:     c.MaxScanRetries,
		HashRetries:        c.HashRetries,
		IndexPolicy:        vfs.IndexPolicy(c.IndexPolicy),

		// one second worth of reads as burst
		HashLimiter: ratelimiter.New(uint(c.HashRateLimit), uint(c.HashRateLimit)),
	}
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (FRUITMIX_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use FRUITMIX_ prefix and underscores
	// Example: FRUITMIX_FOREST_HASH_CONCURRENCY=4
	v.SetEnvPrefix("FRUITMIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only consults keys viper already knows about
	for key, value := range defaultKeys() {
		v.SetDefault(key, value)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// defaultKeys flattens the default configuration into viper keys. Paths
// derived from storage.root stay empty here; ApplyDefaults fills them in
// from whatever root was loaded.
func defaultKeys() map[string]any {
	d := GetDefaultConfig()
	return map[string]any{
		"logging.level":               d.Logging.Level,
		"logging.format":              d.Logging.Format,
		"logging.output":              d.Logging.Output,
		"storage.root":                d.Storage.Root,
		"storage.drives_file":         "",
		"storage.tmp_dir":             "",
		"forest.dir_read_concurrency": d.Forest.DirReadConcurrency,
		"forest.hash_concurrency":     d.Forest.HashConcurrency,
		"forest.stat_concurrency":     d.Forest.StatConcurrency,
		"forest.retry_delay":          d.Forest.RetryDelay,
		"forest.max_scan_retries":     d.Forest.MaxScanRetries,
		"forest.hash_retries":         d.Forest.HashRetries,
		"forest.index_policy":         d.Forest.IndexPolicy,
		"forest.hash_rate_limit":      d.Forest.HashRateLimit,
		"media.enabled":               d.Media.Enabled,
		"media.workers":               d.Media.Workers,
		"media.queue_size":            d.Media.QueueSize,
		"media.store.type":            d.Media.Store.Type,
		"media.gc.enabled":            d.Media.GC.Enabled,
		"media.gc.interval":           d.Media.GC.Interval,
		"media.gc.dry_run":            d.Media.GC.DryRun,
		"watch.enabled":               d.Watch.Enabled,
		"watch.debounce":              d.Watch.Debounce,
		"metrics.enabled":             d.Metrics.Enabled,
		"metrics.port":                d.Metrics.Port,
		"shutdown_timeout":            d.ShutdownTimeout,
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		// an explicit path that does not exist is treated the same way
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "fruitmix")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "fruitmix")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
