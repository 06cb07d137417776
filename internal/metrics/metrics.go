// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveStreams is the number of client stream connections currently
	// being served.
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jellystream_active_streams",
		Help: "Open client stream connections.",
	})

	// TranscoderSpawns counts transcoder child processes started, by
	// outcome.
	TranscoderSpawns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jellystream_transcoder_spawns_total",
		Help: "Transcoder processes started.",
	}, []string{"outcome"})

	// EntriesGenerated counts schedule entries written.
	EntriesGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jellystream_schedule_entries_generated_total",
		Help: "Schedule entries created by the generator.",
	})

	// MaintainerRuns counts maintenance passes, by outcome.
	MaintainerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jellystream_maintainer_runs_total",
		Help: "Background maintenance passes.",
	}, []string{"outcome"})

	// PoolBuildSeconds observes content pool build latency.
	PoolBuildSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "jellystream_pool_build_seconds",
		Help:    "Content pool build duration.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})
)
