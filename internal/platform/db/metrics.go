package db

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolMetrics observes connection leasing. A nil *PoolMetrics records nothing.
type PoolMetrics struct {
	leased     prometheus.Gauge
	waiting    prometheus.Gauge
	timeouts   prometheus.Counter
	reconnects prometheus.Counter
	wait       prometheus.Histogram
}

// NewPoolMetrics registers pool collectors on reg.
func NewPoolMetrics(reg prometheus.Registerer) *PoolMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &PoolMetrics{
		leased: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "muistot_db_connections_leased",
			Help: "Connections currently leased to a transaction.",
		}),
		waiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "muistot_db_acquire_waiting",
			Help: "Callers waiting for a free connection.",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "muistot_db_acquire_timeouts_total",
			Help: "Acquisitions that exceeded the wait budget.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "muistot_db_reconnects_total",
			Help: "Connections re-established after a transport failure.",
		}),
		wait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "muistot_db_acquire_wait_seconds",
			Help:    "Time spent waiting for a connection.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.leased, m.waiting, m.timeouts, m.reconnects, m.wait)
	return m
}

func (m *PoolMetrics) lease(delta float64) {
	if m != nil {
		m.leased.Add(delta)
	}
}

func (m *PoolMetrics) waiter(delta float64) {
	if m != nil {
		m.waiting.Add(delta)
	}
}

func (m *PoolMetrics) timeout() {
	if m != nil {
		m.timeouts.Inc()
	}
}

func (m *PoolMetrics) reconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *PoolMetrics) observeWait(d time.Duration) {
	if m != nil {
		m.wait.Observe(d.Seconds())
	}
}
