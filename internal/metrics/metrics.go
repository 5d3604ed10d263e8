package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Upstream provider calls, labeled by provider name and outcome
	// ("ok", "error", "rate_limited", "breaker_open").
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketd_provider_requests_total",
		Help: "Total number of upstream provider requests by outcome",
	}, []string{"provider", "outcome"})

	// Live stream lifecycle
	StreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketd_stream_reconnects_total",
		Help: "Total number of websocket reconnect attempts",
	})

	EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketd_stream_events_total",
		Help: "Total number of live events dispatched by kind",
	}, []string{"kind"})

	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketd_stream_malformed_frames_total",
		Help: "Total number of stream frames that failed to decode",
	})

	// Feed cache
	FeedRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "marketd_feed_refresh_seconds",
		Help:    "Time taken for a full feed refresh cycle",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	FeedEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketd_feed_entries",
		Help: "Current number of entries in the master token feed cache",
	})

	// Price aggregation
	PriceCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketd_price_cache_hits_total",
		Help: "Total number of price reads served from cache",
	})

	PriceStaleServes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketd_price_stale_serves_total",
		Help: "Total number of price reads served stale after all providers failed",
	})

	// RPC pool
	RpcRotations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketd_rpc_rotations_total",
		Help: "Total number of RPC endpoint rotations by cause",
	}, []string{"cause"})

	// Sink writes
	SinkWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketd_sink_write_errors_total",
		Help: "Total number of failed fire-and-forget sink writes",
	})
)

// Handler returns the HTTP handler exposing all registered collectors.
func Handler() http.Handler {
	return promhttp.Handler()
}
