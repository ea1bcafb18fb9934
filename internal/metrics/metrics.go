package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sharedoc_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sharedoc_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Lock metrics
	LockOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sharedoc_lock_operations_total",
			Help: "Lock operations by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	LocksSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sharedoc_locks_swept_total",
			Help: "Expired locks reclaimed by the janitor",
		},
	)

	// Document metrics
	DocumentSaves = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sharedoc_document_saves_total",
			Help: "Document content saves",
		},
	)

	ImagesCollected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sharedoc_images_collected_total",
			Help: "Image garbage collection decisions",
		},
		[]string{"result"}, // "deleted", "referenced", "missing", "error"
	)

	ImagesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sharedoc_images_uploaded_total",
			Help: "Images uploaded",
		},
	)

	// Notification metrics
	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sharedoc_notification_failures_total",
			Help: "Real-time events that could not be published",
		},
		[]string{"event"},
	)
)
