package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"cadence/internal/core"
	applog "cadence/internal/log"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// statusFor maps a service error onto an HTTP status and the error type used
// in logs.
func statusFor(err error) (int, string) {
	var bad *badRequestError
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest, applog.ErrorTypeValidation
	case errors.Is(err, core.ErrUnauthenticated):
		return http.StatusUnauthorized, applog.ErrorTypeAuth
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, applog.ErrorTypeNotFound
	case errors.Is(err, core.ErrDateConflict):
		return http.StatusConflict, applog.ErrorTypeConflict
	case errors.Is(err, core.ErrInvalidScope):
		return http.StatusUnprocessableEntity, applog.ErrorTypeScope
	case errors.Is(err, core.ErrInvalidRange), core.IsValidation(err):
		return http.StatusUnprocessableEntity, applog.ErrorTypeValidation
	}
	return http.StatusInternalServerError, applog.ErrorTypeInternal
}

// writeError answers with the mapped status. Internal failures are logged and
// their details kept out of the response.
func writeError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status, errType := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
		applog.NewStructuredLogger(applog.FromContext(r.Context())).
			LogError(r.Context(), "Request failed", err, errType, operation, applog.NewFields().WithComponent(applog.ComponentHTTP))
	}
	writeJSON(w, status, errorBody{Error: msg})
}
