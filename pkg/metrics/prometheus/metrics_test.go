package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisnuc/appifi-sub000/pkg/metrics"
)

// value reads the current value of a counter or gauge.
func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	if c := out.GetCounter(); c != nil {
		return c.GetValue()
	}
	return out.GetGauge().GetValue()
}

func TestForestAndMediaMetrics(t *testing.T) {
	metrics.InitRegistry()

	fm, ok := NewForestMetrics().(*forestMetrics)
	require.True(t, ok, "registry initialized, expected prometheus implementation")

	fm.ScanStarted()
	assert.Equal(t, 1.0, value(t, fm.scansInFlight))
	fm.ScanFinished(time.Millisecond, 3, nil)
	fm.ScanStarted()
	fm.ScanFinished(time.Millisecond, 0, errors.New("eio"))
	assert.Equal(t, 0.0, value(t, fm.scansInFlight))
	assert.Equal(t, 1.0, value(t, fm.scansTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, value(t, fm.scansTotal.WithLabelValues("error")))

	fm.HashStarted()
	fm.HashFinished(time.Second, 4096, nil)
	assert.Equal(t, 4096.0, value(t, fm.hashedBytes))

	fm.SetWorkingSet("hashless", 7)
	assert.Equal(t, 7.0, value(t, fm.workingSets.WithLabelValues("hashless")))

	mm, ok := NewMediaMetrics().(*mediaMetrics)
	require.True(t, ok)
	mm.RecordExtraction("JPEG", time.Millisecond, nil)
	mm.RecordDropped()
	mm.SetQueueDepth(5)
	assert.Equal(t, 1.0, value(t, mm.extractionsTotal.WithLabelValues("JPEG", "success")))
	assert.Equal(t, 1.0, value(t, mm.droppedTotal))
	assert.Equal(t, 5.0, value(t, mm.queueDepth))
}
