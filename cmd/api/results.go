package main

import (
	"net/http"
	"strings"

	"mailcleaner/internal/models"
)

// operator names the admin who acted, for the processed_by column.
func operator(r *http.Request) string {
	if by := strings.TrimSpace(r.Header.Get("X-Operator")); by != "" {
		return by
	}
	return "admin"
}

func (s *server) listResults(w http.ResponseWriter, r *http.Request) {
	limit, ok := intQuery(r, "limit", 50)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid 'limit'")
		return
	}
	offset, ok := intQuery(r, "offset", 0)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid 'offset'")
		return
	}

	results, err := s.app.Store.ListResults(r.Context(), limit, offset)
	if err != nil {
		s.fail(w, err)
		return
	}
	// Return [] rather than null when nothing has been processed yet.
	if results == nil {
		results = []models.RevalidationResult{}
	}
	s.writeJSON(w, http.StatusOK, results)
}

type rollbackRequest struct {
	Reason string `json:"reason"`
}

func (s *server) rollback(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid result id")
		return
	}
	var req rollbackRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.Reason) == "" {
		s.writeError(w, http.StatusBadRequest, "a rollback needs a 'reason'")
		return
	}

	res, err := s.app.Processor.Rollback(r.Context(), id, req.Reason, operator(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

type reviewRequest struct {
	Approve bool   `json:"approve"`
	Note    string `json:"note"`
}

func (s *server) review(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid queue item id")
		return
	}
	var req reviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.app.Processor.ResolveReview(r.Context(), id, req.Approve, req.Note, operator(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}
