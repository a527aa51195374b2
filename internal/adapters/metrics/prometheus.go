package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_tool_calls_total",
		Help: "Total tool invocations",
	}, []string{"server", "tool", "status"})

	ToolCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "beacon_tool_call_duration_seconds",
		Help:    "Tool invocation duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 15, 60},
	}, []string{"server"})

	ServersRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beacon_servers_running",
		Help: "Number of tool servers currently in the running state",
	})

	ServerStartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_server_starts_total",
		Help: "Tool server start attempts",
	}, []string{"server", "outcome"})

	HealthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_health_checks_total",
		Help: "Health probes against running tool servers",
	}, []string{"server", "outcome"})

	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_turns_total",
		Help: "Agent turns by terminal outcome",
	}, []string{"outcome"})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "beacon_llm_request_duration_seconds",
		Help:    "LLM request duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 120},
	}, []string{"model"})

	TokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_tokens_total",
		Help: "Tokens consumed and produced across turns",
	}, []string{"direction"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_http_requests_total",
		Help: "Total number of HTTP API requests",
	}, []string{"method", "path", "status"})
)
