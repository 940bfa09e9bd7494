package main

import (
	"net/http"

	"mailcleaner/internal/settings"
)

func (s *server) getSettings(w http.ResponseWriter, r *http.Request) {
	st, ok := s.settings(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

// putSettings applies a partial update on top of the current file. A broken
// file is replaced starting from defaults.
func (s *server) putSettings(w http.ResponseWriter, r *http.Request) {
	st, _ := s.app.Settings.Snapshot()
	if err := decodeJSON(w, r, &st); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := settings.Validate(st); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.app.Settings.Save(st); err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}
