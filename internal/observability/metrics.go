package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AccessDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guarda",
		Name:      "access_decisions_total",
		Help:      "Total number of access decisions",
	}, []string{"flow", "outcome", "reason"})

	PlateReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guarda",
		Name:      "plate_reads_total",
		Help:      "Total number of plate reads by detected format",
	}, []string{"format", "corrected"})

	MatchDistance = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "guarda",
		Name:      "face_match_distance",
		Help:      "Best face distance per access check",
		Buckets:   prometheus.LinearBuckets(0.1, 0.1, 15),
	})

	DuplicateGrants = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "guarda",
		Name:      "duplicate_grants_total",
		Help:      "Access checks that matched more than one active authorization",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "guarda",
		Name:      "stage_duration_seconds",
		Help:      "Duration of access check stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	SnapshotLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guarda",
		Name:      "snapshot_loads_total",
		Help:      "Enrollment snapshot loads by source",
	}, []string{"source"})

	ForwardResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guarda",
		Name:      "plate_forward_total",
		Help:      "Plate forwarding attempts by result",
	}, []string{"result"})

	ForwardQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "guarda",
		Name:      "plate_forward_queue_depth",
		Help:      "Plates waiting in the forwarding stream",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "guarda",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "guarda",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
