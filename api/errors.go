package api

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/warp/lodger-engine/generic"
)

// errorKind maps an error chain onto its HTTP status and a stable kind label.
func errorKind(err error) (int, string) {
	switch {
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, generic.ErrConcurrencyConflict):
		return http.StatusConflict, "concurrency_conflict"
	case errors.Is(err, generic.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, generic.ErrValidation):
		return http.StatusBadRequest, "validation"
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return http.StatusBadRequest, "validation"
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError renders an engine error. Internal errors are logged with their
// full chain and reported to the client without it.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := errorKind(err)
	resp := ErrorResponse{
		Error:   err.Error(),
		Kind:    kind,
		Hints:   generic.Hints(err),
		Details: generic.Details(err),
	}
	if len(resp.Details) == 0 {
		resp.Details = nil
	}
	if status == http.StatusInternalServerError {
		h.log.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		resp.Error = "internal error"
		resp.Hints = nil
		resp.Details = nil
	}
	writeJSON(w, status, resp)
}
