// Package metrics provides Prometheus metrics for SiteSmith monitoring.
// Exports model-call, pipeline-stage and image-generation metrics.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds all Prometheus metric collectors for SiteSmith.
type Metrics struct {
	// Model Gateway
	ModelAttemptsTotal *prometheus.CounterVec // outcome: ok | timeout | rate_limited | ...
	ModelCallDuration  prometheus.Histogram
	ModelRetriesTotal  prometheus.Counter

	// Pipeline
	StageDuration  *prometheus.HistogramVec // stage: think | gather | image | codegen | modify
	PipelinesTotal *prometheus.CounterVec   // outcome: completed | failed

	// Images
	ImagesGeneratedTotal prometheus.Counter
	ImagesDroppedTotal   prometheus.Counter

	// Retrieval
	RetrievalSearchesTotal prometheus.Counter
	RetrievalInsertsTotal  prometheus.Counter
}

// Get returns the singleton Metrics instance.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	return &Metrics{
		ModelAttemptsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sitesmith_model_attempts_total",
			Help: "Model call attempts by outcome",
		}, []string{"outcome"}),
		ModelCallDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "sitesmith_model_call_duration_seconds",
			Help:    "Latency of individual model call attempts",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		ModelRetriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitesmith_model_retries_total",
			Help: "Model call attempts that were retries",
		}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitesmith_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"stage"}),
		PipelinesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sitesmith_pipelines_total",
			Help: "Pipeline runs by outcome",
		}, []string{"outcome"}),
		ImagesGeneratedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitesmith_images_generated_total",
			Help: "Images successfully generated",
		}),
		ImagesDroppedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitesmith_images_dropped_total",
			Help: "Image briefs dropped after generation failure",
		}),
		RetrievalSearchesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitesmith_retrieval_searches_total",
			Help: "Vector store searches issued by the pipeline",
		}),
		RetrievalInsertsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitesmith_retrieval_inserts_total",
			Help: "Vector store insert batches",
		}),
	}
}

// ObserveStage records one completed stage execution.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveModelAttempt records one model call attempt and its outcome.
func (m *Metrics) ObserveModelAttempt(outcome string, d time.Duration, retry bool) {
	m.ModelAttemptsTotal.WithLabelValues(outcome).Inc()
	m.ModelCallDuration.Observe(d.Seconds())
	if retry {
		m.ModelRetriesTotal.Inc()
	}
}
