package calendar

import "github.com/prometheus/client_golang/prometheus"

// Resolution paths
const (
	PathHit     = "hit"
	PathRefresh = "refresh"
	PathDirect  = "direct"
)

// Remote fetch outcomes
const (
	OutcomeOK             = "ok"
	OutcomeRemoteError    = "remote_error"
	OutcomeTransportError = "transport_error"
	OutcomeMalformed      = "malformed"
)

// Metrics counts resolver activity. A nil *Metrics records nothing.
type Metrics struct {
	lookups       *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	writeFailures prometheus.Counter
}

// NewMetrics creates the resolver counters and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "isdayoff",
			Name:      "queries_total",
			Help:      "Resolved queries by resolution path.",
		}, []string{"path"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "isdayoff",
			Name:      "remote_fetches_total",
			Help:      "Calls to the remote authority by outcome.",
		}, []string{"outcome"}),
		writeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "isdayoff",
			Name:      "cache_write_failures_total",
			Help:      "Year sequences that could not be persisted.",
		}),
	}

	reg.MustRegister(m.lookups, m.fetches, m.writeFailures)
	return m
}

func (m *Metrics) observeQuery(path string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(path).Inc()
}

func (m *Metrics) observeFetch(outcome string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeWriteFailure() {
	if m == nil {
		return
	}
	m.writeFailures.Inc()
}
