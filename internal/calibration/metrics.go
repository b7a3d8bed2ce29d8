package calibration

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "railkpi_fits_total",
		Help: "Curve fits attempted, by model type and outcome.",
	}, []string{"model", "outcome"})

	fitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "railkpi_fit_duration_seconds",
		Help:    "Wall time of a single curve fit.",
		Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"model"})

	batchJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "railkpi_batch_jobs_in_flight",
		Help: "Fits currently running inside a batch.",
	})
)
