package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Incident agent metrics for production monitoring
var (
	// Investigation metrics
	InvestigationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incident_agent_investigations_total",
			Help: "Total number of investigations started",
		},
		[]string{"severity", "status"},
	)

	InvestigationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "incident_agent_investigation_duration_seconds",
			Help:    "Investigation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17min
		},
		[]string{"final_phase"},
	)

	InvestigationIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "incident_agent_investigation_iterations",
			Help:    "Number of reasoning cycles per investigation",
			Buckets: prometheus.LinearBuckets(1, 2, 10), // 1 to 19
		},
	)

	// LLM metrics
	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incident_agent_llm_requests_total",
			Help: "Total number of LLM API requests",
		},
		[]string{"provider", "model", "status"},
	)

	LLMTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incident_agent_llm_tokens_total",
			Help: "Total number of LLM tokens consumed",
		},
		[]string{"provider", "model", "type"}, // type: input/output
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "incident_agent_llm_request_duration_seconds",
			Help:    "LLM request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
		[]string{"provider", "model"},
	)

	// Tool metrics
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incident_agent_tool_calls_total",
			Help: "Total number of tool dispatches",
		},
		[]string{"tool", "status"},
	)

	ToolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "incident_agent_tool_call_duration_seconds",
			Help:    "Tool execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
		[]string{"tool"},
	)

	// Evidence metrics
	DeploymentsFound = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "incident_agent_deployments_found",
			Help:    "Number of distinct deployments surfaced per investigation",
			Buckets: prometheus.LinearBuckets(0, 2, 11), // 0 to 20
		},
	)

	// Runbook metrics
	RunbookExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incident_agent_runbook_executions_total",
			Help: "Total number of runbook executions recorded",
		},
		[]string{"status"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "incident_agent_websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WebSocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incident_agent_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: inbound/outbound
	)
)
