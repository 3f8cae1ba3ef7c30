// Package metrics defines the Prometheus metrics exposed at --metrics-addr,
// grounded on the promauto.NewCounterVec/NewHistogramVec pattern in
// NERVsystems-osmmcp's pkg/monitoring/metrics.go, narrowed to the counters
// this server's components actually produce.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RenderDuration records RendererWorker.RenderStill latency.
	RenderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rastertiled_render_duration_seconds",
			Help:    "Tile render duration in seconds, excluding PNG encode.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"worker"},
	)

	// EncodeDuration records the image/png.Encode cost after a render.
	EncodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rastertiled_encode_duration_seconds",
			Help:    "PNG encode duration in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
		[]string{"worker"},
	)

	// ArbiterWait records time spent blocked on the RenderArbiter.
	ArbiterWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rastertiled_arbiter_wait_seconds",
			Help:    "Time spent waiting to acquire the render arbiter.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"worker"},
	)

	// RasterCacheResult counts raster cache lookups by outcome.
	RasterCacheResult = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rastertiled_raster_cache_total",
			Help: "Raster cache lookups by result.",
		},
		[]string{"result"}, // hit, miss, error
	)

	// VectorSourceResult counts upstream FileSource requests by outcome.
	VectorSourceResult = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rastertiled_vector_source_total",
			Help: "Vector source (style/sprite/glyph/vector-tile) fetches by result.",
		},
		[]string{"kind", "result"},
	)

	// RequestsTotal counts HTTP requests handled by component J.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rastertiled_http_requests_total",
			Help: "HTTP requests by route and status class.",
		},
		[]string{"route", "status"},
	)
)

// ObserveSeconds is a small helper to avoid repeating time.Since(start).Seconds()
// at every call site.
func ObserveSeconds(h *prometheus.HistogramVec, labels []string, start time.Time) {
	h.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
}
