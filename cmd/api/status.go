package main

import (
	"errors"
	"io"
	"net/http"

	"mailcleaner/internal/lock"
	"mailcleaner/internal/models"
)

type scanRequest struct {
	Type models.ScanType `json:"type"`
}

// startScan takes the scan lock before answering, then sweeps in the
// background. A scan already holding the lock is reported as 409
// skipped_locked.
func (s *server) startScan(w http.ResponseWriter, r *http.Request) {
	req := scanRequest{Type: models.ScanManual}
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Type != models.ScanManual && req.Type != models.ScanScheduled {
		s.writeError(w, http.StatusBadRequest, "type must be manual or scheduled")
		return
	}

	st, ok := s.settings(w)
	if !ok {
		return
	}

	claim, err := s.app.Scanner.Start(r.Context())
	if errors.Is(err, lock.ErrHeld) {
		held, _ := s.app.Scanner.Running(r.Context())
		s.writeJSON(w, http.StatusConflict, map[string]any{
			"outcome": models.OutcomeSkippedLocked,
			"message": "A scan is already in progress",
			"lock":    held,
		})
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		res, err := claim.Run(s.bgCtx, req.Type, st)
		if err != nil {
			s.logger.Error("background scan failed", "error", err)
			return
		}
		s.logger.Info("background scan finished", "outcome", res.Outcome, "message", res.Message)
	}()
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"outcome": "started",
		"type":    req.Type,
		"run":     claim.Lock().Owner,
	})
}

func (s *server) scanStatus(w http.ResponseWriter, r *http.Request) {
	held, err := s.app.Scanner.Running(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"running": held != nil, "lock": held})
}

func (s *server) scanHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := intQuery(r, "limit", 20)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid 'limit'")
		return
	}
	summaries, err := s.app.Store.ListScanSummaries(r.Context(), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	if summaries == nil {
		summaries = []models.ScanSummary{}
	}
	s.writeJSON(w, http.StatusOK, summaries)
}

func (s *server) healthCheck(w http.ResponseWriter, r *http.Request) {
	h, err := s.app.Scanner.HealthCheck(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, h)
}

func (s *server) schedulerEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := intQuery(r, "limit", 50)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid 'limit'")
		return
	}
	events, err := s.app.Store.ListEvents(r.Context(), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	if events == nil {
		events = []models.SchedulerEvent{}
	}
	s.writeJSON(w, http.StatusOK, events)
}
