package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Registrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visage",
		Name:      "registrations_total",
		Help:      "Total number of registration attempts by outcome",
	}, []string{"outcome"})

	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visage",
		Name:      "verifications_total",
		Help:      "Total number of verification attempts by outcome",
	}, []string{"outcome"})

	Deletions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visage",
		Name:      "deletions_total",
		Help:      "Total number of identity deletions by outcome",
	}, []string{"outcome"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "visage",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	EnrichJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visage",
		Name:      "enrich_jobs_total",
		Help:      "Total number of video enrichment jobs by result",
	}, []string{"result"})

	EnrichDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "visage",
		Name:      "enrich_duration_seconds",
		Help:      "Wall time of completed video enrichment jobs",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "visage",
		Name:      "queue_depth",
		Help:      "Number of pending enrichment jobs in queue",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "visage",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "visage",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
