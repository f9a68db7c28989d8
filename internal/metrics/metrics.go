// Package metrics defines prometheus metrics to expose
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atelier_api_request_duration_seconds",
			Help:    "Total time taken for generation requests in seconds",
			Buckets: []float64{1, 2.5, 5, 10, 15, 20, 25, 30, 40, 50, 75, 100, 150, 200, 350, 400, 500, 600},
		},
		[]string{"model"},
	)

	PipelineOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_api_pipeline_outcome_total",
			Help: "Terminal pipeline outcomes by kind",
		},
		[]string{"model", "outcome"},
	)

	GenerationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_api_generation_attempts_total",
			Help: "Upstream generation attempts by result class",
		},
		[]string{"model", "result"},
	)

	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_api_rate_limit_rejections_total",
			Help: "Requests rejected at admission",
		},
		[]string{"backend"},
	)

	ArtifactsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "atelier_api_artifacts_written_total",
			Help: "Artifacts persisted to the artifact root",
		},
	)

	ArtifactsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "atelier_api_artifacts_reaped_total",
			Help: "Artifacts deleted by the retention reaper",
		},
	)

	DeliveryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_api_delivery_total",
			Help: "Artifact deliveries by mode and status",
		},
		[]string{"mode", "status"},
	)

	ResponseCodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_api_status_code",
			Help: "Status Codes",
		},
		[]string{"path", "status_code"},
	)
)
