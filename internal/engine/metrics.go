package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// featuresTotal counts feature outcomes.
	// Labels: outcome (selected, none_found, skipped_<reason>)
	featuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gocutoff",
		Subsystem: "engine",
		Name:      "features_total",
		Help:      "Total features processed by outcome",
	}, []string{"outcome"})

	// stageDuration measures the time spent reaching each stage.
	// Labels: stage
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gocutoff",
		Subsystem: "engine",
		Name:      "stage_duration_seconds",
		Help:      "Engine stage duration in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"stage"})
)
