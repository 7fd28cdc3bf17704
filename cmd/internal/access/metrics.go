package access

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the token store counters. A nil *Metrics records nothing.
type Metrics struct {
	cacheHits    prometheus.Counter
	cacheMisses  prometheus.Counter
	loadFailures prometheus.Counter
	usageWrites  prometheus.Counter
	migrated     *prometheus.CounterVec
}

// NewMetrics registers the token store metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tunnelgate", Subsystem: "access", Name: "cache_hits_total",
			Help: "Token lookups served from the in-memory cache.",
		}),
		cacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tunnelgate", Subsystem: "access", Name: "cache_misses_total",
			Help: "Token lookups that had to read the record files.",
		}),
		loadFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tunnelgate", Subsystem: "access", Name: "load_failures_total",
			Help: "Token record or usage files that could not be read or parsed.",
		}),
		usageWrites: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tunnelgate", Subsystem: "access", Name: "usage_writes_total",
			Help: "Usage ledger rewrites.",
		}),
		migrated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tunnelgate", Subsystem: "access", Name: "legacy_migrations_total",
			Help: "Legacy v1 token files processed at startup, by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) hit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

func (m *Metrics) loadFailed() {
	if m != nil {
		m.loadFailures.Inc()
	}
}

func (m *Metrics) usageWritten() {
	if m != nil {
		m.usageWrites.Inc()
	}
}

func (m *Metrics) migration(result string) {
	if m != nil {
		m.migrated.WithLabelValues(result).Inc()
	}
}
