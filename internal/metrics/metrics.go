// Package metrics provides Prometheus instrumentation for the live chat
// service. It exposes gauges for push connections and subscriptions,
// counters for message and event throughput, and histograms for latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of open push connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "livechat_connections_total",
		Help: "Current number of open push connections",
	})

	// Subscribers tracks the number of sinks registered in the broadcast hub.
	Subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "livechat_subscribers",
		Help: "Current number of sinks subscribed to streams",
	})

	// MessagesTotal counts chat messages, labeled by outcome:
	// "stored", "rejected" or "rate_limited".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livechat_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"outcome"})

	// EventsPublished counts hub events by type.
	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livechat_events_published_total",
		Help: "Total number of events published to the broadcast hub",
	}, []string{"type"})

	// DeliveryFailures counts sinks dropped after a failed push.
	DeliveryFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livechat_delivery_failures_total",
		Help: "Total number of failed pushes that dropped a sink",
	})

	// CommandsTotal counts moderation actions by command and result.
	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livechat_commands_total",
		Help: "Total number of moderation commands handled",
	}, []string{"command", "result"})

	// FanoutLatency records how long a publish takes to reach every sink.
	FanoutLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "livechat_fanout_latency_seconds",
		Help:    "Time to deliver one event to all sinks of a stream",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		Subscribers,
		MessagesTotal,
		EventsPublished,
		DeliveryFailures,
		CommandsTotal,
		FanoutLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
