// Package metrics exposes prometheus counters for the pipeline. A nil
// *Collector is valid and records nothing, so metrics stay optional.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the pipeline's prometheus instruments.
type Collector struct {
	registry *prometheus.Registry

	received *prometheus.CounterVec
	rejected prometheus.Counter

	attempts  *prometheus.CounterVec
	delivered *prometheus.CounterVec
	failures  *prometheus.CounterVec
	terminal  *prometheus.CounterVec

	replayCycles prometheus.Counter
	replayMoved  prometheus.Counter
}

// New creates a collector with its own registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Collector{
		registry: reg,
		received: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "histoship_payloads_received_total",
			Help: "Payloads accepted by the receiver, per subsystem.",
		}, []string{"subsystem"}),
		rejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "histoship_payloads_rejected_total",
			Help: "Payloads dropped for naming an unknown subsystem.",
		}),
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "histoship_delivery_attempts_total",
			Help: "Delivery attempts, per destination.",
		}, []string{"destination"}),
		delivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "histoship_deliveries_total",
			Help: "Confirmed deliveries, per destination.",
		}, []string{"destination"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "histoship_delivery_failures_total",
			Help: "Failed delivery attempts, per destination.",
		}, []string{"destination"}),
		terminal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "histoship_terminal_failures_total",
			Help: "Payload-destination pairs given up on, per destination.",
		}, []string{"destination"}),
		replayCycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "histoship_replay_cycles_total",
			Help: "Replay cycles executed.",
		}),
		replayMoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "histoship_replay_files_total",
			Help: "Files re-injected by the replay engine.",
		}),
	}
}

// Handler serves the collector's registry in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) PayloadReceived(subsystem string) {
	if c == nil {
		return
	}
	c.received.WithLabelValues(subsystem).Inc()
}

func (c *Collector) PayloadRejected() {
	if c == nil {
		return
	}
	c.rejected.Inc()
}

func (c *Collector) DeliveryAttempt(destination string) {
	if c == nil {
		return
	}
	c.attempts.WithLabelValues(destination).Inc()
}

func (c *Collector) Delivered(destination string) {
	if c == nil {
		return
	}
	c.delivered.WithLabelValues(destination).Inc()
}

func (c *Collector) DeliveryFailed(destination string) {
	if c == nil {
		return
	}
	c.failures.WithLabelValues(destination).Inc()
}

func (c *Collector) TerminalFailure(destination string) {
	if c == nil {
		return
	}
	c.terminal.WithLabelValues(destination).Inc()
}

func (c *Collector) ReplayCycle(moved int) {
	if c == nil {
		return
	}
	c.replayCycles.Inc()
	c.replayMoved.Add(float64(moved))
}
