package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/snarg/speechprep/internal/diagnose"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error     string   `json:"error"`
	Details   string   `json:"details,omitempty"`
	NextSteps []string `json:"nextSteps,omitempty"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// WriteErrorDetail writes a JSON error response with details.
func WriteErrorDetail(w http.ResponseWriter, status int, msg, details string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Details: details})
}

// WriteDiagnosis writes a classified pipeline failure.
func WriteDiagnosis(w http.ResponseWriter, d diagnose.Diagnosis) {
	WriteJSON(w, d.Status, ErrorResponse{
		Error:     d.Message,
		Details:   d.Details,
		NextSteps: d.NextSteps,
	})
}

// DecodeJSON reads and decodes a JSON request body into v.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("missing request body")
	}
	return json.NewDecoder(r.Body).Decode(v)
}
