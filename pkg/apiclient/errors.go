package apiclient

import (
	"fmt"
	"net/http"
)

// APIError is an error reply of the admin API.
type APIError struct {
	StatusCode int

	// Code is the metadata error code name, e.g. "PathNotExists".
	Code    string
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNotFound returns true if the requested entry does not exist.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsUnavailable returns true if the node cannot serve the request.
func (e *APIError) IsUnavailable() bool {
	return e.StatusCode == http.StatusServiceUnavailable
}
