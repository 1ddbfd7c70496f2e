// Package metrics defines the prometheus collectors exposed by the gateway
// and worker daemons.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferflow_dispatched_requests_total",
			Help: "Total number of inference requests published to the request queue",
		},
		[]string{"model"},
	)

	DispatchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inferflow_dispatch_failures_total",
			Help: "Total number of publish failures at dispatch time",
		},
	)

	ChunksConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferflow_chunks_consumed_total",
			Help: "Total number of response queue chunks consumed by the aggregator",
		},
		[]string{"terminal"},
	)

	ChunksRelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inferflow_chunks_relayed_total",
			Help: "Total number of chunks republished by workers onto the response queue",
		},
	)

	StreamsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferflow_streams_completed_total",
			Help: "Total number of finalized streams by status",
		},
		[]string{"status"},
	)

	MalformedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferflow_malformed_messages_total",
			Help: "Total number of undecodable messages acknowledged and dropped",
		},
		[]string{"queue"},
	)

	PoisonedRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inferflow_poisoned_requests_total",
			Help: "Total number of requests routed to the poison queue after exhausting deliveries",
		},
	)

	RegistryEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inferflow_registry_evictions_total",
			Help: "Total number of delivery targets evicted by the registry TTL",
		},
	)

	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inferflow_broker_reconnects_total",
			Help: "Total number of broker re-initialization cycles run by the supervisor",
		},
	)

	PromptTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferflow_prompt_tokens_total",
			Help: "Total number of prompt tokens reported by providers",
		},
		[]string{"model"},
	)

	CompletionTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferflow_completion_tokens_total",
			Help: "Total number of completion tokens reported by providers",
		},
		[]string{"model"},
	)

	StreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inferflow_stream_duration_seconds",
			Help:    "Wall time from first accumulated chunk to terminal chunk",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 15, 20, 30, 60, 120, 300, 600},
		},
		[]string{"model"},
	)

	TokensPerSecond = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inferflow_tokens_per_second",
			Help:    "Completion tokens per second for finalized streams",
			Buckets: []float64{1, 5, 10, 15, 20, 25, 30, 40, 50, 60, 80, 100},
		},
		[]string{"model"},
	)
)
