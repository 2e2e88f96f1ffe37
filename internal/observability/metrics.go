package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_messages_fetched_total",
		Help: "The total number of messages fetched from source channels",
	}, []string{"channel"})

	FetchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_fetch_requests_total",
		Help: "Total number of history fetch requests to Telegram",
	}, []string{"channel", "status"})

	FloodWaitSecondsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_flood_wait_seconds_total",
		Help: "Total time in seconds spent waiting for Telegram flood control",
	}, []string{"channel"})

	UnitsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_units_processed_total",
		Help: "The total number of post units processed",
	}, []string{"status"})

	MediaDownloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_media_downloads_total",
		Help: "Total number of media download attempts by outcome",
	}, []string{"outcome"})

	PostsPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_posts_persisted_total",
		Help: "The total number of posts written to storage",
	}, []string{"channel"})

	TopPostsSelected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_top_posts_selected",
		Help: "Number of units selected in the last top-posts run",
	})

	RunDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_run_duration_seconds",
		Help:    "Duration in seconds of a full pipeline run",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 3600},
	}, []string{"mode"})

	TranslationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_translation_requests_total",
		Help: "Total number of translation requests",
	}, []string{"status"})

	TranslationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_translation_duration_seconds",
		Help:    "Duration of translation requests",
		Buckets: prometheus.DefBuckets,
	})
)
