// Package metrics exposes Prometheus counters for validations, batch runs
// and revalidation decisions.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mailcleaner/internal/models"
)

// Metrics holds every collector on its own registry. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	ValidationsTotal   *prometheus.CounterVec
	ValidationScore    prometheus.Histogram
	ValidationErrors   *prometheus.CounterVec
	BatchRunsTotal     *prometheus.CounterVec
	BatchDuration      *prometheus.HistogramVec
	DecisionsTotal     *prometheus.CounterVec
	UnsubscribesTotal  prometheus.Counter
	QueueItems         *prometheus.GaugeVec
	StaleLocksCleared  *prometheus.CounterVec
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		ValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailcleaner_validations_total",
				Help: "Addresses validated, by verdict and depth",
			},
			[]string{"valid", "deep"},
		),
		ValidationScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailcleaner_validation_score",
				Help:    "Distribution of final validation scores",
				Buckets: prometheus.LinearBuckets(0, 10, 11),
			},
		),
		ValidationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailcleaner_validation_errors_total",
				Help: "Hard validation errors by kind",
			},
			[]string{"kind"},
		),
		BatchRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailcleaner_batch_runs_total",
				Help: "Batch job runs by job and outcome",
			},
			[]string{"job", "outcome"},
		),
		BatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailcleaner_batch_duration_seconds",
				Help:    "Wall time of batch job runs",
				Buckets: []float64{0.1, 1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"job"},
		),
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailcleaner_revalidation_decisions_total",
				Help: "Revalidation decisions by action",
			},
			[]string{"action"},
		),
		UnsubscribesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mailcleaner_auto_unsubscribes_total",
				Help: "Subscribers unsubscribed automatically",
			},
		),
		QueueItems: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mailcleaner_queue_items",
				Help: "Revalidation queue items by status",
			},
			[]string{"status"},
		),
		StaleLocksCleared: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailcleaner_stale_locks_cleared_total",
				Help: "Locks force-released by the health check",
			},
			[]string{"name"},
		),
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailcleaner_api_requests_total",
				Help: "HTTP API requests by method, route and status",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailcleaner_api_request_duration_seconds",
				Help:    "HTTP API request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.ValidationsTotal,
		m.ValidationScore,
		m.ValidationErrors,
		m.BatchRunsTotal,
		m.BatchDuration,
		m.DecisionsTotal,
		m.UnsubscribesTotal,
		m.QueueItems,
		m.StaleLocksCleared,
		m.APIRequestsTotal,
		m.APIRequestDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveValidation fits validator.WithObserver.
func (m *Metrics) ObserveValidation(res *models.ValidationResult) {
	if m == nil {
		return
	}
	m.ValidationsTotal.WithLabelValues(strconv.FormatBool(res.IsValid), strconv.FormatBool(res.Deep)).Inc()
	m.ValidationScore.Observe(float64(res.Score))
	for _, e := range res.Errors {
		m.ValidationErrors.WithLabelValues(string(e)).Inc()
	}
}

func (m *Metrics) ObserveBatch(job string, outcome models.Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.BatchRunsTotal.WithLabelValues(job, string(outcome)).Inc()
	m.BatchDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) ObserveDecision(action string) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) ObserveQueue(st models.QueueStats) {
	if m == nil {
		return
	}
	m.QueueItems.WithLabelValues(string(models.QueuePending)).Set(float64(st.Pending))
	m.QueueItems.WithLabelValues(string(models.QueueProcessing)).Set(float64(st.Processing))
	m.QueueItems.WithLabelValues(string(models.QueueCompleted)).Set(float64(st.Completed))
	m.QueueItems.WithLabelValues(string(models.QueueFailed)).Set(float64(st.Failed))
	m.QueueItems.WithLabelValues(string(models.QueueManualReview)).Set(float64(st.ManualReview))
}

func (m *Metrics) LockCleared(name string) {
	if m == nil {
		return
	}
	m.StaleLocksCleared.WithLabelValues(name).Inc()
}

// OnAutoUnsubscribed makes Metrics a notify.Listener.
func (m *Metrics) OnAutoUnsubscribed(_ context.Context, _ models.Subscriber, _ *models.ValidationResult) {
	if m == nil {
		return
	}
	m.UnsubscribesTotal.Inc()
}
