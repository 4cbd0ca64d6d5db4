package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector gathers Prometheus metrics for the gateway's auth surface.
type Collector struct {
	logins    *prometheus.CounterVec
	refreshes *prometheus.CounterVec
	denials   prometheus.Counter
	duration  *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewCollector creates a Collector with its own registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jamgate_logins_total",
			Help: "Completed authorization-code exchanges by result.",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jamgate_token_refreshes_total",
			Help: "Refresh-token exchanges by result.",
		}, []string{"result"}),
		denials: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jamgate_gate_denials_total",
			Help: "Requests rejected by the session gate.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jamgate_http_request_duration_seconds",
			Help:    "HTTP request latency by method and status code.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),
		registry: registry,
	}

	registry.MustRegister(c.logins, c.refreshes, c.denials, c.duration)

	return c
}

// RecordLogin records a completed exchange attempt ("success" or "failure").
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordRefresh records a refresh attempt ("success" or "failure").
func (c *Collector) RecordRefresh(result string) {
	c.refreshes.WithLabelValues(result).Inc()
}

// RecordDenial records a session gate rejection.
func (c *Collector) RecordDenial() {
	c.denials.Inc()
}

// Handler returns the /metrics exposition handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Middleware records request latency by method and status code.
func (c *Collector) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(recorder, r)

			c.duration.WithLabelValues(r.Method, strconv.Itoa(recorder.status)).Observe(time.Since(start).Seconds())
		})
	}
}
