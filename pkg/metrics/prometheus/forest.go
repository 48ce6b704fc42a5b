package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wisnuc/appifi-sub000/pkg/metrics"
)

// forestMetrics is the Prometheus implementation of metrics.ForestMetrics.
type forestMetrics struct {
	scansTotal    *prometheus.CounterVec
	scanDuration  prometheus.Histogram
	scanEntries   prometheus.Histogram
	scansInFlight prometheus.Gauge

	hashesTotal    *prometheus.CounterVec
	hashDuration   prometheus.Histogram
	hashedBytes    prometheus.Counter
	hashesInFlight prometheus.Gauge

	workingSets *prometheus.GaugeVec
}

// NewForestMetrics creates a new Prometheus-backed ForestMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewForestMetrics() metrics.ForestMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopForestMetrics()
	}

	reg := metrics.GetRegistry()

	return &forestMetrics{
		scansTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fruitmix_forest_scans_total",
				Help: "Total number of directory scans by status",
			},
			[]string{"status"},
		),
		scanDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "fruitmix_forest_scan_duration_seconds",
				Help: "Duration of directory scans in seconds",
				Buckets: []float64{
					0.001, // 1ms
					0.01,  // 10ms
					0.1,   // 100ms
					1,     // 1s
					10,    // 10s
				},
			},
		),
		scanEntries: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fruitmix_forest_scan_entries",
				Help:    "Number of entries listed per full directory scan",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		scansInFlight: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "fruitmix_forest_scans_in_flight",
				Help: "Current number of directory scans touching the disk",
			},
		),
		hashesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fruitmix_forest_hashes_total",
				Help: "Total number of file hash computations by status",
			},
			[]string{"status"},
		),
		hashDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "fruitmix_forest_hash_duration_seconds",
				Help: "Duration of file hash computations in seconds",
				Buckets: []float64{
					0.01, // 10ms
					0.1,  // 100ms
					1,    // 1s
					10,   // 10s
					60,   // 1m
					600,  // 10m
				},
			},
		),
		hashedBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "fruitmix_forest_hashed_bytes_total",
				Help: "Total bytes read by successful hash computations",
			},
		),
		hashesInFlight: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "fruitmix_forest_hashes_in_flight",
				Help: "Current number of file hash computations touching the disk",
			},
		),
		workingSets: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fruitmix_forest_working_set_size",
				Help: "Number of nodes in each scheduler working set",
			},
			[]string{"set"},
		),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *forestMetrics) ScanStarted() {
	m.scansInFlight.Inc()
}

func (m *forestMetrics) ScanFinished(duration time.Duration, entries int, err error) {
	m.scansInFlight.Dec()
	m.scansTotal.WithLabelValues(status(err)).Inc()
	m.scanDuration.Observe(duration.Seconds())
	if err == nil && entries > 0 {
		m.scanEntries.Observe(float64(entries))
	}
}

func (m *forestMetrics) HashStarted() {
	m.hashesInFlight.Inc()
}

func (m *forestMetrics) HashFinished(duration time.Duration, bytes int64, err error) {
	m.hashesInFlight.Dec()
	m.hashesTotal.WithLabelValues(status(err)).Inc()
	m.hashDuration.Observe(duration.Seconds())
	if err == nil {
		m.hashedBytes.Add(float64(bytes))
	}
}

func (m *forestMetrics) SetWorkingSet(set string, size int) {
	m.workingSets.WithLabelValues(set).Set(float64(size))
}
