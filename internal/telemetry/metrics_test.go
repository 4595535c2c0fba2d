package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.IncProvisioned("card")
	m.IncProvisioned("card")
	m.IncExpired("sweep")
	m.AddAnomalies("multiple_active", 3)
	m.AddAnomalies("multiple_active", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Provisioned.WithLabelValues("card")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Expired.WithLabelValues("sweep")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Anomalies.WithLabelValues("multiple_active")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncProvisioned("card")
		m.IncRenewed("basic")
		m.IncExpired("lazy")
		m.AddAnomalies("x", 1)
		m.IncPaymentVerification("ok")
		m.ObserveSweep(1)
		m.ObserveRequest("GET", "/", "200", 0.1)
	})
}
