// Package metrics exposes Prometheus metrics for the HTTP server and for the
// orchestrator's retry attempts, flows and response caches.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leapstack-labs/leapviz/pkg/cache"
	"github.com/leapstack-labs/leapviz/pkg/orchestrator"
	"github.com/leapstack-labs/leapviz/pkg/retry"
)

const namespace = "leapviz"

// Attempt outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeRetry  = "retry"
	OutcomeFailed = "failed"
)

// Flow outcomes.
const (
	OutcomeCacheHit   = "cache_hit"
	OutcomeSuperseded = "superseded"
	OutcomeError      = "error"
)

// Collector owns a registry and the metrics registered on it. It implements
// orchestrator.Observer. All methods are safe for concurrent use.
type Collector struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	attempts     *prometheus.CounterVec
	backoff      *prometheus.HistogramVec
	flows        *prometheus.CounterVec
	flowDuration *prometheus.HistogramVec
}

var _ orchestrator.Observer = (*Collector)(nil)

// New creates a Collector with its own registry. withRuntime adds the Go
// runtime and process collectors.
func New(withRuntime bool) *Collector {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "attempts_total",
			Help:      "Backend call attempts by operation, outcome and error kind.",
		}, []string{"op", "outcome", "kind"}),
		backoff: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "backoff_seconds",
			Help:      "Delay scheduled before a retry.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16},
		}, []string{"op"}),
		flows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flow",
			Name:      "total",
			Help:      "Finished user flows by flow and outcome.",
		}, []string{"flow", "outcome"}),
		flowDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "flow",
			Name:      "duration_seconds",
			Help:      "User flow latency.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"flow"}),
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Middleware records request counts and latency labelled by chi route
// pattern, so path parameters do not explode label cardinality.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		c.httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

// AttemptFinished records one backend attempt.
func (c *Collector) AttemptFinished(a retry.Attempt) {
	outcome, kind := OutcomeOK, ""
	if a.Err != nil {
		kind = string(a.Err.Kind)
		outcome = OutcomeFailed
		if !a.Final {
			outcome = OutcomeRetry
			c.backoff.WithLabelValues(a.Op).Observe(a.Delay.Seconds())
		}
	}
	c.attempts.WithLabelValues(a.Op, outcome, kind).Inc()
}

// FlowFinished records one finished flow.
func (c *Collector) FlowFinished(e orchestrator.FlowEvent) {
	outcome := OutcomeOK
	switch {
	case e.Superseded:
		outcome = OutcomeSuperseded
	case e.Err != nil:
		outcome = OutcomeError
	case e.CacheHit:
		outcome = OutcomeCacheHit
	}
	c.flows.WithLabelValues(string(e.Flow), outcome).Inc()
	c.flowDuration.WithLabelValues(string(e.Flow)).Observe(e.Duration.Seconds())
}

// WatchCaches registers cache gauges and counters read from stats at
// scrape time. It is typically called with Orchestrator.CacheStats.
func (c *Collector) WatchCaches(stats func() map[string]cache.Stats) error {
	return c.registry.Register(newCacheCollector(stats))
}

// WriteToTextfile writes the registry to path for the node exporter's
// textfile collector.
func (c *Collector) WriteToTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}
