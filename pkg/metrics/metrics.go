package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_sync_runs_total",
			Help: "Sync runs by mode (full, incremental) and outcome (success, error, skipped)",
		},
		[]string{"mode", "outcome"},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailsync_sync_duration_seconds",
			Help:    "Duration of sync runs in seconds",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"mode"},
	)

	MessagesSynced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailsync_messages_synced_total",
			Help: "Messages fetched, parsed and stored",
		},
	)

	MessageErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailsync_message_errors_total",
			Help: "Messages that failed to fetch, parse or store",
		},
	)

	MessagesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailsync_messages_deleted_total",
			Help: "Messages removed from the local mirror by history events",
		},
	)

	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_token_refreshes_total",
			Help: "OAuth access token refreshes by outcome",
		},
		[]string{"outcome"},
	)

	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_provider_requests_total",
			Help: "Gmail API requests by operation and status class",
		},
		[]string{"operation", "status"},
	)
)

// ObserveSync records one finished sync run.
func ObserveSync(mode, outcome string, started time.Time) {
	SyncRunsTotal.WithLabelValues(mode, outcome).Inc()
	SyncDuration.WithLabelValues(mode).Observe(time.Since(started).Seconds())
}

// Handler serves the default registry in Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
