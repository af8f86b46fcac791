package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StreamEmissions counts snapshots delivered by category live queries.
	StreamEmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarops_activity_stream_emissions_total",
			Help: "Snapshots received from category live queries",
		},
		[]string{"category"},
	)

	// StreamErrors counts swallowed live-query failures per category.
	StreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarops_activity_stream_errors_total",
			Help: "Live query failures absorbed by category subscribers",
		},
		[]string{"category"},
	)

	// ActiveAggregators tracks running aggregators (one per connected dashboard session).
	ActiveAggregators = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "solarops_activity_active_aggregators",
			Help: "Number of running activity aggregators",
		},
	)

	// WatermarkWrites counts watermark persistence attempts by result (success|failure).
	WatermarkWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarops_activity_watermark_writes_total",
			Help: "Watermark persistence attempts",
		},
		[]string{"result"},
	)

	// HiddenItems counts items hidden from the feed.
	HiddenItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarops_activity_hidden_items_total",
			Help: "Activity items hidden by users",
		},
		[]string{"category"},
	)

	// RealtimeConnections tracks open activity WebSocket connections.
	RealtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "solarops_realtime_connections",
			Help: "Open activity WebSocket connections",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "solarops_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
