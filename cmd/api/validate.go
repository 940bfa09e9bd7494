package main

import (
	"net/http"
	"strings"
)

type validateRequest struct {
	Email string `json:"email"`
	Deep  bool   `json:"deep"`
}

func (s *server) validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		s.writeError(w, http.StatusBadRequest, "missing 'email'")
		return
	}

	res := s.app.Validator.Validate(r.Context(), req.Email, req.Deep)
	if r.Context().Err() != nil {
		s.writeJSON(w, http.StatusGatewayTimeout, res)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// subscriberEvent names the subscriber by id or, failing that, by email.
type subscriberEvent struct {
	SubscriberID int64  `json:"subscriber_id"`
	Email        string `json:"email,omitempty"`
	Hard         bool   `json:"hard,omitempty"`
}

func (s *server) decodeEvent(w http.ResponseWriter, r *http.Request) (subscriberEvent, bool) {
	var ev subscriberEvent
	if err := decodeJSON(w, r, &ev); err != nil || (ev.SubscriberID <= 0 && strings.TrimSpace(ev.Email) == "") {
		s.writeError(w, http.StatusBadRequest, "body must carry a subscriber_id or an email")
		return ev, false
	}
	if ev.SubscriberID <= 0 {
		sub, err := s.app.Store.FindSubscriberByEmail(r.Context(), ev.Email)
		if err != nil {
			s.fail(w, err)
			return ev, false
		}
		ev.SubscriberID = sub.ID
	}
	return ev, true
}

func (s *server) checkSubscription(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.Email) == "" {
		s.writeError(w, http.StatusBadRequest, "missing 'email'")
		return
	}
	st, ok := s.settings(w)
	if !ok {
		return
	}
	v, err := s.app.Intake.CheckSubscription(r.Context(), req.Email, st)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

func (s *server) confirmed(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.decodeEvent(w, r)
	if !ok {
		return
	}
	st, ok := s.settings(w)
	if !ok {
		return
	}
	res, err := s.app.Intake.Confirmed(r.Context(), ev.SubscriberID, st)
	if err != nil {
		s.fail(w, err)
		return
	}
	if res == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"checked": false})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"checked": true, "result": res})
}

func (s *server) bounced(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.decodeEvent(w, r)
	if !ok {
		return
	}
	if err := s.app.Intake.Bounced(r.Context(), ev.SubscriberID, ev.Hard); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) complained(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.decodeEvent(w, r)
	if !ok {
		return
	}
	if err := s.app.Intake.Complained(r.Context(), ev.SubscriberID); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
