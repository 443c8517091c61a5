package platform

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is().
var (
	// ErrBadRequest indicates the upstream rejected the request (HTTP 400).
	ErrBadRequest = errors.New("bad request")

	// ErrUnauthorized indicates invalid client or subject credentials (HTTP 401).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound indicates the upstream resource was not found (HTTP 404).
	ErrNotFound = errors.New("resource not found")

	// ErrServerError indicates an upstream 5xx.
	ErrServerError = errors.New("server error")
)

// APIError is a non-2xx (or error-bodied) response from the platform.
// Status and Body are preserved verbatim so callers can mirror them.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("platform api error (status %d): %s", e.StatusCode, e.Message)
}

// Is implements errors.Is() for comparing with sentinel errors.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case 400:
		return target == ErrBadRequest
	case 401:
		return target == ErrUnauthorized
	case 404:
		return target == ErrNotFound
	}
	if e.StatusCode >= 500 && e.StatusCode < 600 {
		return target == ErrServerError
	}
	return false
}

// newAPIError builds an APIError, lifting a structured message out of the
// body when one is present.
func newAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: statusCode,
		Message:    string(body),
		Body:       body,
	}
	var errResp struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Message          string `json:"message"`
	}
	if json.Unmarshal(body, &errResp) == nil {
		switch {
		case errResp.ErrorDescription != "":
			apiErr.Message = errResp.ErrorDescription
		case errResp.Error != "":
			apiErr.Message = errResp.Error
		case errResp.Message != "":
			apiErr.Message = errResp.Message
		}
	}
	return apiErr
}

// hasErrorField reports whether a JSON body carries a non-empty "error"
// member. The token endpoint can answer 200 with an error payload.
func hasErrorField(body []byte) bool {
	var doc struct {
		Error string `json:"error"`
	}
	return json.Unmarshal(body, &doc) == nil && doc.Error != ""
}
