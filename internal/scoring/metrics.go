package scoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// fitsTotal counts survival fits.
	// Labels: model, outcome (validated, rejected, failed, timeout)
	fitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gocutoff",
		Subsystem: "scoring",
		Name:      "fits_total",
		Help:      "Total survival-model fits by outcome",
	}, []string{"model", "outcome"})

	// fitDuration measures survival-model fit latency.
	// Labels: model
	fitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gocutoff",
		Subsystem: "scoring",
		Name:      "fit_duration_seconds",
		Help:      "Survival-model fit latency in seconds",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"model"})
)

const (
	outcomeValidated = "validated"
	outcomeRejected  = "rejected"
	outcomeFailed    = "failed"
	outcomeTimeout   = "timeout"
)
