// Package metrics holds the prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "acgn_relay"

// Dispatch run results.
const (
	ResultOK         = "ok"
	ResultNoRules    = "no_rules"
	ResultFetchError = "fetch_error"
	ResultStoreError = "store_error"
)

// Metrics contains the application collectors and the registry serving them.
type Metrics struct {
	DispatchRuns         *prometheus.CounterVec
	PostsFetched         prometheus.Counter
	NotificationsSent    prometheus.Counter
	NotificationFailures prometheus.Counter
	FetchErrors          prometheus.Counter
	Commands             *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates the collectors and registers them on a private registry
// together with the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		DispatchRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "runs_total",
				Help:      "Dispatch job runs by result",
			},
			[]string{"result"},
		),
		PostsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "posts_fetched_total",
			Help:      "Posts returned by the upstream feed newer than the cutoff",
		}),
		NotificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "sent_total",
			Help:      "Post links delivered to subscribers",
		}),
		NotificationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "failures_total",
			Help:      "Post links that could not be delivered",
		}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "page_errors_total",
			Help:      "Upstream page fetches that failed",
		}),
		Commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bot",
				Name:      "commands_total",
				Help:      "Inbound bot commands by name",
			},
			[]string{"command"},
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.DispatchRuns,
		m.PostsFetched,
		m.NotificationsSent,
		m.NotificationFailures,
		m.FetchErrors,
		m.Commands,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
