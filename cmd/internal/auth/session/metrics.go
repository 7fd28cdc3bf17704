package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the session authority counters. A nil *Metrics records nothing.
type Metrics struct {
	decisions  *prometheus.CounterVec
	suppressed *prometheus.CounterVec
	closed     prometheus.Counter
	swept      prometheus.Counter
	sessions   prometheus.Gauge
}

// NewMetrics registers the session metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tunnelgate", Subsystem: "session", Name: "decisions_total",
			Help: "Session decisions by operation and resulting error code.",
		}, []string{"op", "code"}),
		suppressed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tunnelgate", Subsystem: "session", Name: "suppressed_total",
			Help: "Sessions ended by suppression, by who caused it.",
		}, []string{"by"}),
		closed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tunnelgate", Subsystem: "session", Name: "closed_total",
			Help: "Sessions closed explicitly.",
		}),
		swept: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tunnelgate", Subsystem: "session", Name: "swept_total",
			Help: "Session records removed by the janitor.",
		}),
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "tunnelgate", Subsystem: "session", Name: "table_size",
			Help: "Sessions currently held in the session table (open and closed).",
		}),
	}
}

func (m *Metrics) decision(op string, code ErrorCode) {
	if m != nil {
		m.decisions.WithLabelValues(op, string(code)).Inc()
	}
}

func (m *Metrics) suppression(by SuppressType) {
	if m != nil {
		m.suppressed.WithLabelValues(string(by)).Inc()
	}
}

func (m *Metrics) close() {
	if m != nil {
		m.closed.Inc()
	}
}

func (m *Metrics) sweep(n int) {
	if m != nil && n > 0 {
		m.swept.Add(float64(n))
	}
}

func (m *Metrics) tableSize(n int) {
	if m != nil {
		m.sessions.Set(float64(n))
	}
}
