package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wisnuc/appifi-sub000/pkg/metrics"
)

// mediaMetrics is the Prometheus implementation of metrics.MediaMetrics.
type mediaMetrics struct {
	extractionsTotal   *prometheus.CounterVec
	extractionDuration *prometheus.HistogramVec
	droppedTotal       prometheus.Counter
	queueDepth         prometheus.Gauge
}

// NewMediaMetrics creates a new Prometheus-backed MediaMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewMediaMetrics() metrics.MediaMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopMediaMetrics()
	}

	reg := metrics.GetRegistry()

	return &mediaMetrics{
		extractionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fruitmix_media_extractions_total",
				Help: "Total number of media metadata extractions by type and status",
			},
			[]string{"magic", "status"},
		),
		extractionDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fruitmix_media_extraction_duration_seconds",
				Help:    "Duration of media metadata extraction in seconds",
				Buckets: []float64{0.001, 0.01, 0.1, 1},
			},
			[]string{"magic"},
		),
		droppedTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "fruitmix_media_dropped_total",
				Help: "Total number of media jobs dropped because the queue was full",
			},
		),
		queueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "fruitmix_media_queue_depth",
				Help: "Current number of queued media jobs",
			},
		),
	}
}

func (m *mediaMetrics) RecordExtraction(magic string, duration time.Duration, err error) {
	m.extractionsTotal.WithLabelValues(magic, status(err)).Inc()
	m.extractionDuration.WithLabelValues(magic).Observe(duration.Seconds())
}

func (m *mediaMetrics) RecordDropped() {
	m.droppedTotal.Inc()
}

func (m *mediaMetrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}
