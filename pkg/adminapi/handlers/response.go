package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/marmos91/dittometa/pkg/metadata/errors"
)

// Response is the envelope of every admin API reply.
type Response struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`

	// Code is the metadata error code name, set for engine failures.
	Code string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, `{"status":"error","error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

func healthyResponse(data any) Response {
	return Response{Status: "healthy", Timestamp: time.Now().UTC(), Data: data}
}

func unhealthyResponse(errMsg string) Response {
	return Response{Status: "unhealthy", Timestamp: time.Now().UTC(), Error: errMsg}
}

func okResponse(data any) Response {
	return Response{Status: "ok", Timestamp: time.Now().UTC(), Data: data}
}

func errorResponse(errMsg string) Response {
	return Response{Status: "error", Timestamp: time.Now().UTC(), Error: errMsg}
}

// BadRequest writes a 400 error response.
func BadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse(msg))
}

// NotFound writes a 404 error response.
func NotFound(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusNotFound, errorResponse(msg))
}

// writeStoreError translates a metadata error into an HTTP status.
func writeStoreError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	resp := errorResponse(err.Error())
	if code != 0 {
		resp.Code = code.String()
	}
	writeJSON(w, StatusFor(code), resp)
}

// StatusFor returns the HTTP status reported for a metadata error code.
func StatusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrPathNotExists:
		return http.StatusNotFound
	case errors.ErrAlreadyExists, errors.ErrInUse, errors.ErrNotEmpty, errors.ErrWouldBlock:
		return http.StatusConflict
	case errors.ErrPermissionDenied:
		return http.StatusForbidden
	case errors.ErrNotOwner:
		return http.StatusMisdirectedRequest
	case errors.ErrInvalidArgument, errors.ErrNotDirectory, errors.ErrIsDirectory:
		return http.StatusBadRequest
	case errors.ErrAgain:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
