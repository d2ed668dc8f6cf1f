package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"progresskit/core"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	writeJSON(w, status, apiError{Code: code, Message: msg, Details: details})
}

// statusFor maps engine error kinds onto HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrInvalidInput), errors.Is(err, core.ErrInvalidCriteria):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrConcurrentModification):
		return http.StatusConflict, "conflict"
	case errors.Is(err, core.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return 499, "canceled"
	}
	return http.StatusInternalServerError, "internal"
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= 500 {
		a.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	var details any
	if core.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
		details = map[string]any{"retryable": true}
	}
	writeError(w, status, code, err.Error(), details)
}
