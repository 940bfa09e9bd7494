package main

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// requireAPIKey validates the Bearer token in the Authorization header before
// letting a request through.
func requireAPIKey(expectedKey string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Lock the server down if the operator forgot to set the key. A 500
			// makes the misconfiguration obvious during deployment.
			if expectedKey == "" {
				http.Error(w, "Server configuration error: API_SECRET_KEY not set", http.StatusInternalServerError)
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))

			// ConstantTimeCompare examines every byte, so latency leaks nothing
			// about how much of a guess was right.
			if subtle.ConstantTimeCompare([]byte(token), []byte(expectedKey)) != 1 {
				logger.Warn("unauthorized API request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				http.Error(w, `{"error": "Unauthorized: Invalid or missing API Key"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
