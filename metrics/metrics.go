// Package metrics exports driver activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spetersoncode/runchat"
	"github.com/spetersoncode/runchat/agent"
	"github.com/spetersoncode/runchat/event"
)

const namespace = "runchat"

// Collector implements agent.Observer on a private registry.
type Collector struct {
	reg *prometheus.Registry

	polls     *prometheus.CounterVec
	events    *prometheus.CounterVec
	retries   *prometheus.CounterVec
	batches   *prometheus.CounterVec
	decisions prometheus.Counter
}

var _ agent.Observer = (*Collector)(nil)

// New creates a Collector. Go runtime and process metrics are registered
// alongside the driver metrics.
func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_polls_total",
			Help:      "Run status fetches, by observed status.",
		}, []string{"status"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "Events handed to sinks, by type.",
		}, []string{"type"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retried remote calls, by operation.",
		}, []string{"op"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approval_batches_total",
			Help:      "Approval batch submissions, by outcome.",
		}, []string{"outcome"}),
		decisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approval_decisions_total",
			Help:      "Tool decisions delivered to the backend.",
		}),
	}

	c.reg.MustRegister(
		c.polls, c.events, c.retries, c.batches, c.decisions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Polled implements agent.Observer.
func (c *Collector) Polled(status runchat.RunStatus) {
	c.polls.WithLabelValues(string(status)).Inc()
}

// Delivered implements agent.Observer.
func (c *Collector) Delivered(t event.Type) {
	c.events.WithLabelValues(string(t)).Inc()
}

// Retried implements agent.Observer.
func (c *Collector) Retried(op string) {
	c.retries.WithLabelValues(op).Inc()
}

// Resolved implements agent.Observer.
func (c *Collector) Resolved(outcome string, calls int) {
	c.batches.WithLabelValues(outcome).Inc()
	if outcome == agent.ResolutionSucceeded {
		c.decisions.Add(float64(calls))
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.reg
}

// Handler serves the metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
