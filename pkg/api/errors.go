package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"chatkit/pkg/errs"
	"chatkit/pkg/ingest"
)

// writeJSON renders v as the response body. A zero status leaves the
// implicit 200 header untouched.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// jsonError renders the error envelope clients match on.
func jsonError(w http.ResponseWriter, status int, message string) {
	_ = writeJSON(w, status, map[string]string{"error": message})
}

// writeErr maps domain errors onto HTTP status codes.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		jsonError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, errs.ErrValidation):
		jsonError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrConflict), errors.Is(err, errs.ErrStateConflict):
		jsonError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ingest.ErrQueueFull):
		jsonError(w, http.StatusServiceUnavailable, err.Error())
	default:
		jsonError(w, http.StatusInternalServerError, err.Error())
	}
}
