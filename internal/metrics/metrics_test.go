package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	if out.Gauge != nil {
		return out.GetGauge().GetValue()
	}
	return out.GetCounter().GetValue()
}

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint")
	})

	before := value(t, transitions.WithLabelValues("verify", "ok"))
	ObserveTransition("verify", "ok", 15*time.Millisecond)
	assert.Equal(t, before+1, value(t, transitions.WithLabelValues("verify", "ok")))

	SetOverdueBatches(3)
	assert.Equal(t, float64(3), value(t, overdueBatches))

	before = value(t, notifications.WithLabelValues("sent"))
	IncNotification("sent")
	assert.Equal(t, before+1, value(t, notifications.WithLabelValues("sent")))
}
