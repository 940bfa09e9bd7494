package main

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mailcleaner/internal/models"
)

const exportPage = 500

// auditFilter reads the log filters shared by listing and export.
func auditFilter(r *http.Request) (models.AuditFilter, error) {
	q := r.URL.Query()
	f := models.AuditFilter{
		EmailContains: strings.TrimSpace(q.Get("email")),
		Action:        models.ActionTaken(q.Get("action")),
	}
	if raw := q.Get("valid"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return f, fmt.Errorf("invalid 'valid': %q", raw)
		}
		f.IsValid = &v
	}
	var err error
	if f.From, err = parseDate(q.Get("from")); err != nil {
		return f, err
	}
	if f.To, err = parseDate(q.Get("to")); err != nil {
		return f, err
	}
	var ok bool
	if f.Limit, ok = intQuery(r, "limit", 50); !ok {
		return f, fmt.Errorf("invalid 'limit'")
	}
	if f.Offset, ok = intQuery(r, "offset", 0); !ok {
		return f, fmt.Errorf("invalid 'offset'")
	}
	return f, nil
}

// parseDate accepts RFC 3339 or a bare YYYY-MM-DD.
func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return t, fmt.Errorf("invalid date %q", raw)
	}
	return t, nil
}

func (s *server) listLogs(w http.ResponseWriter, r *http.Request) {
	f, err := auditFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := s.app.Store.ListAudit(r.Context(), f)
	if err != nil {
		s.fail(w, err)
		return
	}
	if entries == nil {
		entries = []models.AuditLogEntry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

// exportLogs streams every entry matching the filters as CSV, newest first.
func (s *server) exportLogs(w http.ResponseWriter, r *http.Request) {
	f, err := auditFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.Limit, f.Offset = exportPage, 0

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="validation-logs-%s.csv"`, time.Now().UTC().Format(time.DateOnly)))

	cw := csv.NewWriter(w)
	cw.Write([]string{"id", "subscriber_id", "email", "is_valid", "score", "errors", "warnings", "action", "reason", "created_at"})
	for {
		entries, err := s.app.Store.ListAudit(r.Context(), f)
		if err != nil {
			// Headers are already out; all we can do is stop and log.
			s.logger.Error("log export aborted", "offset", f.Offset, "error", err)
			break
		}
		for _, e := range entries {
			cw.Write([]string{
				strconv.FormatInt(e.ID, 10),
				strconv.FormatInt(e.SubscriberID, 10),
				e.Email,
				strconv.FormatBool(e.IsValid),
				strconv.Itoa(e.Score),
				joinKinds(e.Errors),
				joinKinds(e.Warnings),
				string(e.Action),
				e.Reason,
				e.CreatedAt.Format(time.RFC3339),
			})
		}
		if len(entries) < exportPage {
			break
		}
		f.Offset += exportPage
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		s.logger.Error("log export write failed", "error", err)
	}
}

func joinKinds[K ~string](kinds []K) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ";")
}

func (s *server) logStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.app.Store.AuditStats(r.Context(), time.Now().UTC())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

// deleteLogs prunes entries older than ?older_than_days=N, or clears the log
// when called with ?all=true.
func (s *server) deleteLogs(w http.ResponseWriter, r *http.Request) {
	var (
		n   int64
		err error
	)
	q := r.URL.Query()
	switch {
	case q.Get("older_than_days") != "":
		days, ok := intQuery(r, "older_than_days", 0)
		if !ok || days == 0 {
			s.writeError(w, http.StatusBadRequest, "older_than_days must be a positive integer")
			return
		}
		n, err = s.app.Store.PruneAudit(r.Context(), time.Now().UTC().AddDate(0, 0, -days))
	case q.Get("all") == "true":
		n, err = s.app.Store.ClearAudit(r.Context())
	default:
		s.writeError(w, http.StatusBadRequest, "pass older_than_days=N or all=true")
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	s.logger.Warn("validation logs deleted", "rows", n)
	s.writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
