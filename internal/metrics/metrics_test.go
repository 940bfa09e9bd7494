package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailcleaner/internal/models"
)

func TestObserveValidation(t *testing.T) {
	m := New()

	m.ObserveValidation(&models.ValidationResult{Score: 80, IsValid: true})
	m.ObserveValidation(&models.ValidationResult{
		Score:  0,
		Deep:   true,
		Errors: []models.ErrorKind{models.ErrFakePattern, models.ErrFakePattern},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ValidationsTotal.WithLabelValues("true", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ValidationsTotal.WithLabelValues("false", "true")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ValidationErrors.WithLabelValues("fake_pattern")))
}

func TestBatchAndQueue(t *testing.T) {
	m := New()

	m.ObserveBatch("scan", models.OutcomeCompleted, 3*time.Second)
	m.ObserveBatch("scan", models.OutcomeSkippedLocked, 0)
	m.ObserveDecision("resubscribed")
	m.ObserveQueue(models.QueueStats{Pending: 4, Failed: 1})
	m.OnAutoUnsubscribed(context.Background(), models.Subscriber{}, &models.ValidationResult{})
	m.LockCleared("bulk_scan")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchRunsTotal.WithLabelValues("scan", "skipped_locked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("resubscribed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.QueueItems.WithLabelValues("pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UnsubscribesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StaleLocksCleared.WithLabelValues("bulk_scan")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveValidation(&models.ValidationResult{})
		m.ObserveBatch("scan", models.OutcomeCompleted, time.Second)
		m.ObserveDecision("x")
		m.ObserveQueue(models.QueueStats{})
		m.LockCleared("x")
		m.OnAutoUnsubscribed(context.Background(), models.Subscriber{}, nil)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveDecision("manual_review")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `mailcleaner_revalidation_decisions_total{action="manual_review"} 1`)
}

func TestHTTPMiddleware(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.HTTPMiddleware)
	r.Get("/revalidation/results/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"1", "2", "3"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/revalidation/results/"+id, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.APIRequestsTotal.WithLabelValues("GET", "/revalidation/results/{id}", "404")))

	var nilMetrics *Metrics
	rec := httptest.NewRecorder()
	nilMetrics.HTTPMiddleware(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
