// Package handlers implements the thin REST wrapper over FleetManager (§6).
package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/marmos91/sessionfleet/internal/logger"
)

// writeJSON encodes to a buffer first so an encode failure never leaves a
// half-written response with headers already sent.
func writeJSON(w http.ResponseWriter, status int, data any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", logger.Err(err))
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func writeJSONOK(w http.ResponseWriter, data any)      { writeJSON(w, http.StatusOK, data) }
func writeJSONCreated(w http.ResponseWriter, data any) { writeJSON(w, http.StatusCreated, data) }
