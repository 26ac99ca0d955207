// Package observability owns the process metrics registry and the HTTP
// instrumentation middleware.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const unmatchedRoute = "unmatched"

// latencyBuckets spans cached reads (a few ms) up to slow bcrypt logins.
var latencyBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5}

// Metrics is the process registry. Components register their own
// collectors through Registerer; the HTTP series live here.
type Metrics struct {
	registry *prometheus.Registry
	served   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewMetrics builds a private registry carrying the runtime collectors and
// the HTTP series.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		served: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "muistot",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Responses written, partitioned by chi route pattern, method and status.",
		}, []string{"route", "method", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "muistot",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Time from routing to the last handler return.",
			Buckets:   latencyBuckets,
		}, []string{"route"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "muistot",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Requests currently inside the handler chain.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.served, m.latency, m.inFlight,
	)
	return m
}

// Handler serves the registry in the exposition format. Without a registry
// the endpoint answers 503.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware observes every request once the router has matched it. The
// route label is read after the handler returns, since chi fills the
// pattern in while routing.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		began := time.Now()
		next.ServeHTTP(ww, r)
		elapsed := time.Since(began)

		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		route := unmatchedRoute
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		m.served.WithLabelValues(route, r.Method, strconv.Itoa(code)).Inc()
		m.latency.WithLabelValues(route).Observe(elapsed.Seconds())
	})
}

// Registerer exposes the registry for component metrics. A nil Metrics
// falls back to the default registerer.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}
