package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the verification service.
type Metrics struct {
	KeysIssued      prometheus.Counter
	ClaimsSucceeded prometheus.Counter
	ClaimsFailed    *prometheus.CounterVec
	KeysPurged      prometheus.Counter
	ListenerErrors  prometheus.Counter
}

// New creates and registers all verification metrics on reg. Tests pass a
// fresh prometheus.NewRegistry so suites don't collide on registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		KeysIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "verikey_keys_issued_total",
			Help: "Total number of verification keys issued",
		}),
		ClaimsSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "verikey_claims_succeeded_total",
			Help: "Total number of successful key claims",
		}),
		ClaimsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verikey_claims_failed_total",
			Help: "Total number of failed key claims by reason",
		}, []string{"reason"}),
		KeysPurged: factory.NewCounter(prometheus.CounterOpts{
			Name: "verikey_keys_purged_total",
			Help: "Total number of keys removed by expiry sweeps and group purges",
		}),
		ListenerErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "verikey_claim_listener_errors_total",
			Help: "Total number of claim listener failures (logged, not propagated)",
		}),
	}
}

func (m *Metrics) IncrementKeysIssued() {
	m.KeysIssued.Inc()
}

func (m *Metrics) IncrementClaimsSucceeded() {
	m.ClaimsSucceeded.Inc()
}

// IncrementClaimsFailed records a failed claim labelled with the failure
// reason (not_found, expired, already_claimed).
func (m *Metrics) IncrementClaimsFailed(reason string) {
	m.ClaimsFailed.WithLabelValues(reason).Inc()
}

func (m *Metrics) AddKeysPurged(count int64) {
	m.KeysPurged.Add(float64(count))
}

func (m *Metrics) IncrementListenerErrors() {
	m.ListenerErrors.Inc()
}
