package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the entitlement engine counters. A nil *Metrics is a no-op.
type Metrics struct {
	Provisioned          *prometheus.CounterVec
	Renewed              *prometheus.CounterVec
	Expired              *prometheus.CounterVec
	Anomalies            *prometheus.CounterVec
	PaymentVerifications *prometheus.CounterVec
	SweepDuration        prometheus.Histogram
	RequestDuration      *prometheus.HistogramVec
}

// NewMetrics creates the counters and registers them on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Provisioned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wellness",
			Subsystem: "entitlement",
			Name:      "provisioned_total",
			Help:      "Entitlements provisioned, by payment method.",
		}, []string{"method"}),
		Renewed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wellness",
			Subsystem: "entitlement",
			Name:      "renewed_total",
			Help:      "Renewals completed, by target package type.",
		}, []string{"package_type"}),
		Expired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wellness",
			Subsystem: "entitlement",
			Name:      "expired_total",
			Help:      "Entitlements deactivated on expiry, by path (lazy or sweep).",
		}, []string{"path"}),
		Anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wellness",
			Subsystem: "entitlement",
			Name:      "anomalies_total",
			Help:      "Invariant violations detected by the expiry sweep.",
		}, []string{"kind"}),
		PaymentVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wellness",
			Subsystem: "payment",
			Name:      "verifications_total",
			Help:      "Payment verifications, by result.",
		}, []string{"result"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wellness",
			Subsystem: "entitlement",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of expiry sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wellness",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, by method, route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(m.Provisioned, m.Renewed, m.Expired, m.Anomalies, m.PaymentVerifications, m.SweepDuration, m.RequestDuration)
	return m
}

func (m *Metrics) IncProvisioned(method string) {
	if m != nil {
		m.Provisioned.WithLabelValues(method).Inc()
	}
}

func (m *Metrics) IncRenewed(packageType string) {
	if m != nil {
		m.Renewed.WithLabelValues(packageType).Inc()
	}
}

func (m *Metrics) IncExpired(path string) {
	if m != nil {
		m.Expired.WithLabelValues(path).Inc()
	}
}

func (m *Metrics) AddAnomalies(kind string, n int) {
	if m != nil && n > 0 {
		m.Anomalies.WithLabelValues(kind).Add(float64(n))
	}
}

func (m *Metrics) IncPaymentVerification(result string) {
	if m != nil {
		m.PaymentVerifications.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ObserveSweep(seconds float64) {
	if m != nil {
		m.SweepDuration.Observe(seconds)
	}
}

func (m *Metrics) ObserveRequest(method, route, status string, seconds float64) {
	if m != nil {
		m.RequestDuration.WithLabelValues(method, route, status).Observe(seconds)
	}
}
