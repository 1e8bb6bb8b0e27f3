package api

import (
	"encoding/json"
	"net/http"
)

// Envelope status values.
const (
	statusOK    = "ok"
	statusError = "error"
)

// User-visible error messages.
const (
	msgInvalidRun   = "Invalid run."
	msgInsertFailed = "Can't insert run."
	msgListFailed   = "Can't find runs."
	msgRunNotFound  = "No run with id %s"
)

// envelope is the status wrapper used for every non-data response.
type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// writeRawJSON writes an already-encoded JSON document to w.
func writeRawJSON(w http.ResponseWriter, status int, doc []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_, _ = w.Write(doc)
}

// writeOK writes the success envelope.
func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, envelope{Status: statusOK})
}

// writeError writes the error envelope. Errors are reported with HTTP 200
// and distinguished only by the envelope status.
func writeError(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, envelope{Status: statusError, Message: message})
}
