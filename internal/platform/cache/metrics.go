package cache

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts cache traffic per cache name. A nil *Metrics records nothing.
type Metrics struct {
	hits      *prometheus.CounterVec
	misses    *prometheus.CounterVec
	evictions *prometheus.CounterVec
}

// NewMetrics registers cache collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "muistot_cache_hits_total",
			Help: "Responses served from cache.",
		}, []string{"cache"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "muistot_cache_miss_total",
			Help: "Responses rendered because no cache entry existed.",
		}, []string{"cache"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "muistot_cache_evictions_total",
			Help: "Cache flushes triggered by writes.",
		}, []string{"cache"}),
	}
	reg.MustRegister(m.hits, m.misses, m.evictions)
	return m
}

func (m *Metrics) hit(name string) {
	if m != nil {
		m.hits.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) miss(name string) {
	if m != nil {
		m.misses.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) evict(name string) {
	if m != nil {
		m.evictions.WithLabelValues(name).Inc()
	}
}
