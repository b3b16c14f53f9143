package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the chat client.
//
// Naming convention: namespace_subsystem_name
// - namespace: chat_client
// - subsystem: hub, events, store, api
//
// Metric Types:
// - Gauge: Current state (connection state, online users)
// - Counter: Cumulative events (reconnects, invocations, dispatched events)
// - Histogram: Latency distributions (invocation round trips)

var (
	// ConnectionState reports the hub connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting)
	ConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat_client",
		Subsystem: "hub",
		Name:      "connection_state",
		Help:      "Current hub connection state (0=disconnected,1=connecting,2=connected,3=reconnecting)",
	})

	// ReconnectAttempts counts automatic reconnect attempts by outcome
	ReconnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat_client",
		Subsystem: "hub",
		Name:      "reconnect_attempts_total",
		Help:      "Total automatic reconnect attempts",
	}, []string{"status"})

	// HubInvocations counts outbound hub invocations by method and status
	HubInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat_client",
		Subsystem: "hub",
		Name:      "invocations_total",
		Help:      "Total outbound hub invocations",
	}, []string{"method", "status"})

	// InvocationDuration tracks the time from invocation to hub acknowledgement
	InvocationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chat_client",
		Subsystem: "hub",
		Name:      "invocation_seconds",
		Help:      "Round trip time of acknowledged hub invocations",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method"})

	// InboundEvents counts inbound hub events by category and outcome
	InboundEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat_client",
		Subsystem: "events",
		Name:      "inbound_total",
		Help:      "Total inbound hub events",
	}, []string{"event_type", "status"})

	// HandlerPanics counts subscriber callbacks that panicked during dispatch
	HandlerPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat_client",
		Subsystem: "events",
		Name:      "handler_panics_total",
		Help:      "Subscriber callbacks recovered from a panic",
	}, []string{"category"})

	// OnlineUsers tracks the size of the online-user set
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat_client",
		Subsystem: "store",
		Name:      "online_users",
		Help:      "Number of users currently known to be online",
	})

	// APIRequests counts REST collaborator requests by route and status class
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat_client",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Total REST API requests",
	}, []string{"route", "status"})

	// CircuitBreakerState tracks breaker state (0 closed, 1 open, 2 half-open)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chat_client",
		Subsystem: "api",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed,1=open,2=half-open)",
	}, []string{"name"})

	// CircuitBreakerFailures counts calls rejected by an open breaker
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat_client",
		Subsystem: "api",
		Name:      "circuit_breaker_rejections_total",
		Help:      "Calls rejected because the circuit breaker was open",
	}, []string{"name"})

	// RateLimitExceeded counts outbound actions and status requests rejected by a limiter
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat_client",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Requests rejected by a rate limiter",
	}, []string{"action"})
)

// BreakerStateValue maps a breaker state name to the gauge value.
func BreakerStateValue(state string) float64 {
	switch state {
	case "open":
		return 1
	case "half-open":
		return 2
	default:
		return 0
	}
}
