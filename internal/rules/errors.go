package rules

import (
	"errors"
	"fmt"
)

// APIError is a non-2xx response from the rules service. It is always a
// transient, operator-retriable failure: the triggering action commits no
// partial state and may simply be re-triggered.
type APIError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int
	// Message is the service-provided error message, if any.
	Message string
	// Operation names the failing client call, e.g. "generate floor layout".
	Operation string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rules: %s failed with status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("rules: %s failed with status %d: %s", e.Operation, e.StatusCode, e.Message)
}

// IsAPIError reports whether err (or anything it wraps) is a remote rules
// service rejection, and returns it when so.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// errorBody is the error payload shape the service returns on failure.
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (b errorBody) text() string {
	if b.Message != "" {
		return b.Message
	}
	return b.Error
}
