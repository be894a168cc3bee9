package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Divas-Gupta30/workflow-builder/internal/admission"
	"github.com/Divas-Gupta30/workflow-builder/internal/apperr"
)

type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    apperr.Code    `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError renders err as the error envelope. Errors without a code are
// logged and reported as internal.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		logger.ErrorContext(r.Context(), "unhandled error", "path", r.URL.Path, "error", err)
		ae = apperr.New(apperr.CodeInternal, "internal error")
	}
	if secs, ok := admission.RetryAfter(ae); ok {
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	writeJSON(w, apperr.HTTPStatus(ae), errorBody{Error: errorPayload{
		Code:    ae.Code,
		Message: ae.Message,
		Details: ae.Details,
	}})
}
