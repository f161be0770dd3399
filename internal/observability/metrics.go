package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects application metrics across the gateway, agent, delivery
// queue, and memory system.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.MessageCounter.WithLabelValues("console", "inbound").Inc()
type Metrics struct {
	// MessageCounter tracks messages by channel and direction.
	// Labels: channel, direction (inbound|outbound)
	MessageCounter *prometheus.CounterVec

	// DroppedSenders counts inbound messages dropped by channel allow-lists.
	// Labels: channel
	DroppedSenders *prometheus.CounterVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and status.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// AgentTerminations tracks how agent turns ended.
	// Labels: reason (text|needs_input|step_cap|cancelled|error)
	AgentTerminations *prometheus.CounterVec

	// DeliveryAttempts counts delivery attempts by channel and outcome.
	// Labels: channel, status (success|retry|dead_letter)
	DeliveryAttempts *prometheus.CounterVec

	// QueueDepth is a gauge of pending deliveries on disk.
	QueueDepth prometheus.Gauge

	// MemoryFallbacks counts engagements of the file-only memory fallback.
	// Labels: operation (capture|recall|consolidate)
	MemoryFallbacks *prometheus.CounterVec

	// ActiveConnections is a gauge tracking open gateway connections.
	ActiveConnections prometheus.Gauge

	// ErrorCounter tracks errors by component.
	// Labels: component (gateway|agent|delivery|memory|sessions|bus), error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on the given registerer.
// Pass prometheus.DefaultRegisterer in production; a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		MessageCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aide_messages_total",
			Help: "Total number of messages processed by channel and direction",
		}, []string{"channel", "direction"}),

		DroppedSenders: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aide_dropped_senders_total",
			Help: "Inbound messages dropped because the sender is not allow-listed",
		}, []string{"channel"}),

		LLMRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aide_llm_request_duration_seconds",
			Help:    "Duration of LLM API requests in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),

		LLMRequestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aide_llm_requests_total",
			Help: "Total LLM requests by provider, model, and status",
		}, []string{"provider", "model", "status"}),

		ToolExecutionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aide_tool_executions_total",
			Help: "Total tool invocations by name and status",
		}, []string{"tool_name", "status"}),

		ToolExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aide_tool_execution_duration_seconds",
			Help:    "Tool execution time in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool_name"}),

		AgentTerminations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aide_agent_terminations_total",
			Help: "Agent turn termination reasons",
		}, []string{"reason"}),

		DeliveryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aide_delivery_attempts_total",
			Help: "Delivery queue attempts by channel and outcome",
		}, []string{"channel", "status"}),

		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aide_delivery_queue_depth",
			Help: "Pending deliveries on disk",
		}),

		MemoryFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aide_memory_fallbacks_total",
			Help: "Memory operations served by the file-only fallback backend",
		}, []string{"operation"}),

		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aide_gateway_active_connections",
			Help: "Open gateway WebSocket connections",
		}),

		ErrorCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aide_errors_total",
			Help: "Errors by component and type",
		}, []string{"component", "error_type"}),
	}
}
