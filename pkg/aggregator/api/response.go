package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shardvault/shardvault/pkg/errdefs"
)

// Response is the standard API response wrapper.
type Response struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"status":"error","error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// OKResponse creates a generic successful response.
func OKResponse(data interface{}) Response {
	return Response{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// ErrorResponse creates a generic error response.
func ErrorResponse(errMsg string) Response {
	return Response{
		Status:    "error",
		Timestamp: time.Now().UTC(),
		Error:     errMsg,
	}
}

// HealthyResponse creates a successful health check response.
func HealthyResponse(data interface{}) Response {
	return Response{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// UnhealthyResponse creates a failed health check response.
func UnhealthyResponse(errMsg string) Response {
	return Response{
		Status:    "unhealthy",
		Timestamp: time.Now().UTC(),
		Error:     errMsg,
	}
}

// WriteError maps a pipeline error to its HTTP status and writes it.
// Internal failures get a generic message; the detail stays in the logs
// and the audit trail.
func WriteError(w http.ResponseWriter, err error) {
	var ve *errdefs.ValidationError
	switch {
	case errors.As(err, &ve):
		JSON(w, http.StatusBadRequest, ErrorResponse(ve.Error()))
	case errors.Is(err, errdefs.ErrNotFound):
		JSON(w, http.StatusNotFound, ErrorResponse("not found"))
	case errors.Is(err, errdefs.ErrDuplicate):
		JSON(w, http.StatusConflict, ErrorResponse("duplicate resource"))
	case errors.Is(err, errdefs.ErrResource),
		errors.Is(err, errdefs.ErrNoHealthyNodes),
		errors.Is(err, errdefs.ErrCancelled):
		JSON(w, http.StatusServiceUnavailable, ErrorResponse("service unavailable, retry later"))
	default:
		JSON(w, http.StatusInternalServerError, ErrorResponse("internal error"))
	}
}
