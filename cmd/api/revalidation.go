package main

import (
	"errors"
	"io"
	"net/http"

	"mailcleaner/internal/models"
)

func (s *server) populate(w http.ResponseWriter, r *http.Request) {
	c := models.DefaultPopulateCriteria()
	if err := decodeJSON(w, r, &c); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	st, ok := s.settings(w)
	if !ok {
		return
	}
	if !st.RevalidationEnabled {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"outcome": models.OutcomeDisabled,
			"message": "Revalidation system is disabled",
		})
		return
	}

	res, err := s.app.Queue.Populate(r.Context(), c, st)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

type processRequest struct {
	BatchSize int `json:"batch_size"`
}

// process runs one revalidation batch inline. Disabled and lock-held runs
// come back as 200 with their outcome.
func (s *server) process(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.BatchSize < 0 {
		s.writeError(w, http.StatusBadRequest, "batch_size must not be negative")
		return
	}
	st, ok := s.settings(w)
	if !ok {
		return
	}
	if req.BatchSize == 0 {
		req.BatchSize = st.BatchSize
	}

	res, err := s.app.Processor.ProcessQueue(r.Context(), req.BatchSize, st)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *server) queueStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.app.Queue.Stats(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.app.Metrics.ObserveQueue(st)
	s.writeJSON(w, http.StatusOK, st)
}

func (s *server) listQueue(w http.ResponseWriter, r *http.Request) {
	status := models.QueueStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.QueuePending, models.QueueProcessing, models.QueueCompleted, models.QueueFailed, models.QueueManualReview:
	default:
		s.writeError(w, http.StatusBadRequest, "unknown queue status")
		return
	}
	limit, ok := intQuery(r, "limit", 100)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid 'limit'")
		return
	}
	items, err := s.app.Queue.List(r.Context(), status, limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	if items == nil {
		items = []models.QueueItem{}
	}
	s.writeJSON(w, http.StatusOK, items)
}
