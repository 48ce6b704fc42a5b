// Package metrics holds the collector interfaces of the forest and the media
// pipeline, their no-op forms, and the process-wide Prometheus registry.
//
// Collection is off until config.InitializeMetrics sees metrics.enabled and
// calls InitRegistry. Until then the constructors in metrics/prometheus hand
// back the no-op recorders, which are also what vfs.WithMetrics and
// media.PipelineConfig.Metrics fall back to when given nil:
//
//	res := config.InitializeMetrics(cfg, status)
//	forest := vfs.New(opts, vfs.WithMetrics(res.Forest))
//	pipe := media.NewPipeline(store, media.PipelineConfig{Metrics: res.Media})
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the registry the forest and media collectors report
// to and /metrics serves. Later calls do nothing.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the registry, or nil while collection is off.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has run.
func IsEnabled() bool {
	return GetRegistry() != nil
}
