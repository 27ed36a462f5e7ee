package issuer

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the issuer's Prometheus instruments.
type Metrics struct {
	VerifyRequests  *prometheus.CounterVec
	VerifyDuration  prometheus.Histogram
	TokensIssued    prometheus.Counter
	BindingsCreated prometheus.Counter
}

// NewMetrics creates and registers the issuer metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		VerifyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "popwatch",
			Subsystem: "issuer",
			Name:      "verify_requests_total",
			Help:      "Verify requests by outcome.",
		}, []string{"outcome"}),
		VerifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "popwatch",
			Subsystem: "issuer",
			Name:      "verify_duration_seconds",
			Help:      "Verify request duration.",
			Buckets:   prometheus.DefBuckets,
		}),
		TokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "popwatch",
			Subsystem: "issuer",
			Name:      "tokens_issued_total",
			Help:      "Signed tokens minted.",
		}),
		BindingsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "popwatch",
			Subsystem: "issuer",
			Name:      "device_bindings_created_total",
			Help:      "New device bindings created.",
		}),
	}
	reg.MustRegister(m.VerifyRequests, m.VerifyDuration, m.TokensIssued, m.BindingsCreated)
	return m
}

func (m *Metrics) observe(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.VerifyRequests.WithLabelValues(outcome).Inc()
	m.VerifyDuration.Observe(seconds)
}
