// Package render provides the JSON rendering helpers shared by all
// handlers. Responses are plain JSON objects: the embedded front end
// consumes them directly, so there is no envelope format beyond the error
// shape.
package render

import (
	"encoding/json"
	"net/http"
)

const contentType = "application/json"

// ErrorBody is the single error shape every failure response uses.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorDocument wraps ErrorBody under an "error" key.
type ErrorDocument struct {
	Error ErrorBody `json:"error"`
}

// JSON writes v to w with the given HTTP status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Raw writes pre-encoded JSON verbatim, preserving the downstream status.
// Used by the proxy path, which must mirror the downstream response.
func Raw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error writes a structured error response. Message must be safe for the
// client; internals belong in logs, not here.
func Error(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, ErrorDocument{Error: ErrorBody{Code: code, Message: message}})
}

// Success writes the bare acknowledgement shape used by side-effect-only
// endpoints such as revoke.
func Success(w http.ResponseWriter) {
	JSON(w, http.StatusOK, map[string]bool{"success": true})
}
