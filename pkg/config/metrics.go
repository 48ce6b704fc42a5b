package config

import (
	"github.com/wisnuc/appifi-sub000/pkg/metrics"
	promMetrics "github.com/wisnuc/appifi-sub000/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Forest is the collector handed to the forest (never nil, uses noop if disabled)
	Forest metrics.ForestMetrics

	// Media is the collector handed to the media pipeline (never nil)
	Media metrics.MediaMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server, serving status on /status
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
//
// The Prometheus collectors register with the global registry, so this must
// be called at most once per process with metrics enabled.
func InitializeMetrics(cfg *Config, status metrics.StatusFunc) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			Forest: metrics.NewNoopForestMetrics(),
			Media:  metrics.NewNoopMediaMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port:   cfg.Metrics.Port,
		Status: status,
	})

	return &MetricsResult{
		Server: server,
		Forest: promMetrics.NewForestMetrics(),
		Media:  promMetrics.NewMediaMetrics(),
	}
}
