// Package telemetry holds the process-wide Prometheus collectors and the
// OpenTelemetry tracer setup.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Supersteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bagel",
		Name:      "supersteps_total",
		Help:      "Supersteps completed by the synchronous engine.",
	}, []string{"mode"})

	Activations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bagel",
		Name:      "vertex_activations_total",
		Help:      "Vertex program activations (init and apply).",
	}, []string{"mode"})

	Signals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bagel",
		Name:      "signals_total",
		Help:      "Vertex signals raised, local and remote.",
	}, []string{"mode"})

	ActiveVertices = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bagel",
		Name:      "active_vertices",
		Help:      "Vertices active in the current superstep.",
	})

	ExchangeBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warp",
		Name:      "exchange_bytes_total",
		Help:      "Encoded bytes flushed by buffered exchanges.",
	}, []string{"channel"})

	ExchangeBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warp",
		Name:      "exchange_batches_total",
		Help:      "Batches flushed by buffered exchanges.",
	}, []string{"channel"})

	ParForItems = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "warp",
		Name:      "parfor_items_total",
		Help:      "Loop bodies run by ParFor.",
	})

	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bagel",
		Name:      "superstep_duration_seconds",
		Help:      "Wall time of one superstep.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
	}, []string{"mode"})
)
