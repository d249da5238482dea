package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// streaming
	StreamResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_stream_responses_total",
			Help: "Media responses by HTTP status code",
		},
		[]string{"status"},
	)

	StreamBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "media_stream_bytes_total",
			Help: "Bytes written to media clients",
		},
	)

	StreamAbortedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "media_stream_aborted_total",
			Help: "Streams that ended before the full window was sent",
		},
	)

	// thumbnails
	ThumbnailJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_thumbnail_jobs_total",
			Help: "Thumbnail job attempts by outcome",
		},
		[]string{"outcome"},
	)

	ThumbnailQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_thumbnail_queue_depth",
			Help: "Thumbnail jobs by status",
		},
		[]string{"status"},
	)

	ThumbnailDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_thumbnail_duration_seconds",
			Help:    "Time spent fetching and rendering one thumbnail",
			Buckets: prometheus.DefBuckets,
		},
	)

	// tier migration
	MigrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_migrations_total",
			Help: "Tier migrations by outcome",
		},
		[]string{"from", "to", "outcome"},
	)

	MigrationBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "media_migration_bytes_total",
			Help: "Bytes copied between storage tiers",
		},
	)
)

func init() {
	prometheus.MustRegister(
		StreamResponsesTotal,
		StreamBytesTotal,
		StreamAbortedTotal,
		ThumbnailJobsTotal,
		ThumbnailQueueDepth,
		ThumbnailDuration,
		MigrationsTotal,
		MigrationBytesTotal,
	)
}

// Handler exposes the default registry on a fasthttp route.
func Handler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
}
