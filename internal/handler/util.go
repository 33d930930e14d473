package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/inkwell-cms/livechat/internal/store"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeServiceError maps store errors onto HTTP statuses: unknown
// conversations are the caller's problem, everything else is a storage
// failure.
func writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrConversationNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "storage failure")
}
