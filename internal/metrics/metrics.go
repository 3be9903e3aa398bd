package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Relay metrics for production monitoring
var (
	// Session metrics
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jean_active_sessions",
			Help: "Current number of active WebSocket chat sessions",
		},
	)

	SessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jean_sessions_total",
			Help: "Total number of WebSocket chat sessions accepted",
		},
	)

	// Round metrics
	RoundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jean_rounds_total",
			Help: "Total number of completion rounds by outcome",
		},
		[]string{"outcome"}, // outcome: text/tool_calls/empty/error
	)

	CompletionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jean_completion_duration_seconds",
			Help:    "Completion round duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
	)

	// Wire metrics
	ChunksForwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jean_chunks_forwarded_total",
			Help: "Total number of stream chunks forwarded to clients",
		},
		[]string{"type"}, // type: text/tool_call/tool_result
	)

	ToolResultsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jean_tool_results_total",
			Help: "Total number of tool results folded into transcripts",
		},
	)

	FramesRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jean_frames_rejected_total",
			Help: "Total number of malformed inbound frames rejected",
		},
	)
)
