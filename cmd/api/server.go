package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mailcleaner/internal/app"
	"mailcleaner/internal/models"
	"mailcleaner/internal/queue"
	"mailcleaner/internal/revalidation"
	"mailcleaner/internal/store"
)

// maxBody caps JSON request bodies. CSV uploads have their own limit.
const maxBody = 1 << 20

type server struct {
	app    *app.App
	logger *slog.Logger
	apiKey string

	// bgCtx outlives requests so an accepted scan is not cut short when the
	// client disconnects. Shutdown cancels it and waits on bg.
	bgCtx context.Context
	bg    sync.WaitGroup
}

func newServer(ctx context.Context, a *app.App, apiKey string) *server {
	return &server{
		app:    a,
		logger: a.Logger.With("component", "api"),
		apiKey: apiKey,
		bgCtx:  ctx,
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(s.app.Metrics.HTTPMiddleware)
	r.Use(enableCORS)

	r.Get("/info", s.info)
	r.Get("/healthz", s.healthz)

	r.Group(func(r chi.Router) {
		r.Use(requireAPIKey(s.apiKey, s.logger))

		r.Post("/validate", s.validate)
		r.Post("/validate/batch", s.validateBatch)

		r.Post("/subscriptions/check", s.checkSubscription)
		r.Post("/events/confirm", s.confirmed)
		r.Post("/events/bounce", s.bounced)
		r.Post("/events/complaint", s.complained)

		r.Route("/scan", func(r chi.Router) {
			r.Post("/", s.startScan)
			r.Get("/", s.scanStatus)
			r.Get("/history", s.scanHistory)
			r.Post("/health", s.healthCheck)
		})

		r.Route("/revalidation", func(r chi.Router) {
			r.Post("/populate", s.populate)
			r.Post("/process", s.process)
			r.Get("/stats", s.queueStats)
			r.Get("/queue", s.listQueue)
			r.Post("/queue/{id}/review", s.review)
			r.Get("/results", s.listResults)
			r.Post("/results/{id}/rollback", s.rollback)
		})

		r.Route("/logs", func(r chi.Router) {
			r.Get("/", s.listLogs)
			r.Get("/export", s.exportLogs)
			r.Get("/stats", s.logStats)
			r.Delete("/", s.deleteLogs)
		})

		r.Get("/settings", s.getSettings)
		r.Put("/settings", s.putSettings)
		r.Get("/scheduler/events", s.schedulerEvents)
		r.Handle("/metrics", s.app.Metrics.Handler())
	})
	return r
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"bytes", ww.BytesWritten(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// enableCORS sets CORS headers for the admin frontend.
// Access-Control-Allow-Origin is "*"; restrict it to the frontend origin in
// production.
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) info(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service": "mailcleaner",
		"capabilities": []string{
			"Syntax, fake-pattern and typo checks",
			"Disposable and role account detection",
			"MX / SMTP mailbox probe",
			"Scheduled list scans with auto-unsubscribe",
			"Revalidation queue with manual review and rollback",
		},
	})
}

// healthz reports whether the subscriber store answers.
func (s *server) healthz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.app.Store.CountSubscribers(r.Context(), ""); err != nil {
		s.logger.Error("health probe failed", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "subscriber store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// settings returns the current snapshot, or writes a 500 when the settings
// file is unusable.
func (s *server) settings(w http.ResponseWriter) (models.Settings, bool) {
	st, err := s.app.Settings.Snapshot()
	if err != nil {
		s.logger.Error("settings file unusable", "error", err)
		s.writeError(w, http.StatusInternalServerError, "settings file is invalid")
		return st, false
	}
	return st, true
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps a component error onto a status code.
func (s *server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, revalidation.ErrNotResubscribed), errors.Is(err, revalidation.ErrNotInReview):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, queue.ErrBadStatus):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// intQuery reads a non-negative integer query parameter, def when absent.
func intQuery(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	return n, err == nil && n >= 0
}
