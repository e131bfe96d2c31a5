package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeOK           = "ok"
	OutcomeConfig       = "config_missing"
	OutcomeNoImage      = "no_image"
	OutcomeUpstream     = "upstream_error"
	OutcomeEncoding     = "encoding_error"
	OutcomeInvalidInput = "invalid_input"
	OutcomeCanceled     = "canceled"
)

var (
	ImagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "amazon_main_images_total",
		Help: "Images run through the finishing pipeline, by outcome.",
	}, []string{"outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "amazon_main_stage_duration_seconds",
		Help:    "Duration of the generation and finishing stages.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
	}, []string{"stage"})

	WhitenedPixels = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "amazon_main_whitened_pixels",
		Help:    "Pixels forced to pure white per finished image.",
		Buckets: prometheus.ExponentialBuckets(100, 10, 6),
	})

	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "amazon_main_in_flight",
		Help: "Generation calls currently holding a slot.",
	})

	ArchiveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amazon_main_archive_failures_total",
		Help: "Finished images that could not be archived.",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
