// Package handlers provides the HTTP handlers of the dashboard API.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/anstrom/reconradar/internal/api/middleware"
	"github.com/anstrom/reconradar/internal/errors"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// baseHandler carries what every handler needs.
type baseHandler struct {
	logger *slog.Logger
	now    func() time.Time
}

func newBaseHandler(logger *slog.Logger) baseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return baseHandler{logger: logger, now: time.Now}
}

func (h baseHandler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response",
			"error", err, "path", r.URL.Path, "method", r.Method)
	}
}

func (h baseHandler) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		h.logger.Error("API error",
			"request_id", middleware.GetRequestID(r),
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err)
	}
	h.writeJSON(w, r, status, ErrorResponse{
		Error:     err.Error(),
		Timestamp: h.now().UTC(),
		RequestID: middleware.GetRequestID(r),
	})
}

// statusFor maps coded errors onto HTTP status codes.
// ErrorHandler answers every request with status and a JSON error body. The
// router uses it for unknown paths and method mismatches.
func ErrorHandler(status int, logger *slog.Logger) http.Handler {
	h := newBaseHandler(logger)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, r, status, fmt.Errorf("%s %s: %s", r.Method, r.URL.Path, http.StatusText(status)))
	})
}

func statusFor(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeValidation, errors.CodeTargetInvalid:
		return http.StatusBadRequest
	case errors.CodeTimeout, errors.CodeDatabaseTimeout, errors.CodeCanceled:
		return http.StatusGatewayTimeout
	case errors.CodeDatabaseConnection:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
