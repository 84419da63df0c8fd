package session

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeSuccess      = "success"
	outcomeRejected     = "rejected"
	outcomeTransient    = "transient"
	outcomeNoCredential = "no_credential"
	outcomeDiscarded    = "discarded"
)

// Metrics counts renewal and logout activity. A nil *Metrics records nothing.
type Metrics struct {
	renewals        *prometheus.CounterVec
	waiters         *prometheus.CounterVec
	broadcasts      prometheus.Counter
	externalLogouts prometheus.Counter
}

// NewMetrics builds the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessionkeeper",
			Name:      "renewals_total",
			Help:      "Renewal attempts by principal and outcome.",
		}, []string{"principal", "outcome"}),
		waiters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessionkeeper",
			Name:      "renewal_waiters_total",
			Help:      "Renew calls that attached to an already running renewal.",
		}, []string{"principal"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sessionkeeper",
			Name:      "broadcasts_total",
			Help:      "Logout broadcasts written by this instance.",
		}),
		externalLogouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sessionkeeper",
			Name:      "external_logouts_total",
			Help:      "Logout broadcasts observed from other instances.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.renewals, m.waiters, m.broadcasts, m.externalLogouts)
	}
	return m
}

func (m *Metrics) renewal(p Principal, outcome string) {
	if m == nil {
		return
	}
	m.renewals.WithLabelValues(string(p), outcome).Inc()
}

func (m *Metrics) waiter(p Principal) {
	if m == nil {
		return
	}
	m.waiters.WithLabelValues(string(p)).Inc()
}

func (m *Metrics) broadcast() {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
}

func (m *Metrics) externalLogout() {
	if m == nil {
		return
	}
	m.externalLogouts.Inc()
}
