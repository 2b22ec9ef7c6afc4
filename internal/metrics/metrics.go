// Package metrics defines the Prometheus collectors for the catalog.
//
// The server builds one Metrics value on its own registry and hands it to the
// middleware and services that record into it:
//
//	reg := prometheus.NewRegistry()
//	m := metrics.New(reg)
//	r.Handle("/metrics", metrics.Handler(reg))
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "catalog"

type Metrics struct {
	// HTTP metrics, recorded by middleware.Metrics. The path label is the chi
	// route pattern ("/product/{id}"), never the raw URL, so cardinality stays
	// bounded.
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
	RateLimited      *prometheus.CounterVec

	// Logins counts sign-in attempts by method ("password", "basic",
	// "github") and result ("success", "failure").
	Logins *prometheus.CounterVec

	// OAuthLinks counts OAuth callbacks by provider and outcome ("linked",
	// "created", "retried", "failed").
	OAuthLinks *prometheus.CounterVec

	// CatalogWrites counts successful writes by entity and operation.
	CatalogWrites *prometheus.CounterVec
}

// New creates the collectors and, when reg is non-nil, registers them
// together with the Go runtime and process collectors. Tests that do not
// scrape pass nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being served.",
		}),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the rate limiter.",
			},
			[]string{"limiter"},
		),
		Logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "logins_total",
				Help:      "Sign-in attempts by method and result.",
			},
			[]string{"method", "result"},
		),
		OAuthLinks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "oauth_links_total",
				Help:      "OAuth callbacks by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		),
		CatalogWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "catalog",
				Name:      "writes_total",
				Help:      "Catalog writes by entity and operation.",
			},
			[]string{"entity", "op"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.RequestDuration,
			m.RequestsInFlight,
			m.RateLimited,
			m.Logins,
			m.OAuthLinks,
			m.CatalogWrites,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Handler exposes reg in the Prometheus text format.
func Handler(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
