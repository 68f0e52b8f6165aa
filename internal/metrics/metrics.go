// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wpprelay"

var connectionStates = []string{"unknown", "connecting", "open", "close"}

var (
	connectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connection_state",
		Help:      "Current connection state (1 for the active state, 0 otherwise).",
	}, []string{"state"})
	reconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnect_attempts_total",
		Help:      "Reconnect attempts scheduled after a non-logout disconnect.",
	})
	relayedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relayed_messages_total",
		Help:      "Inbound messages relayed to the webhook, by outcome.",
	}, []string{"outcome"})
	webhookLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "webhook_request_duration_seconds",
		Help:      "Latency of webhook POST requests.",
		Buckets:   prometheus.DefBuckets,
	})
	outboundSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbound_sends_total",
		Help:      "Outbound sends, by result.",
	}, []string{"result"})
	droppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_dropped_events_total",
		Help:      "Internal events skipped because a subscriber was full, by topic.",
	}, []string{"topic"})
)

// SetConnectionState marks state as the active connection state.
func SetConnectionState(state string) {
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		connectionState.WithLabelValues(s).Set(v)
	}
}

// ReconnectScheduled counts one scheduled reconnect.
func ReconnectScheduled() {
	reconnectAttempts.Inc()
}

// Relayed counts one relayed message with the given outcome.
func Relayed(outcome string) {
	relayedMessages.WithLabelValues(outcome).Inc()
}

// ObserveWebhook records the duration of one webhook call.
func ObserveWebhook(d time.Duration) {
	webhookLatency.Observe(d.Seconds())
}

// OutboundSend counts one outbound send. ok selects the "sent" or "failed" result.
func OutboundSend(ok bool) {
	result := "sent"
	if !ok {
		result = "failed"
	}
	outboundSends.WithLabelValues(result).Inc()
}

// EventDropped counts one skipped internal event delivery.
func EventDropped(topic string) {
	droppedEvents.WithLabelValues(topic).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
