package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/casefile/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error    string            `json:"error" validate:"required"`
	Kind     apperr.Kind       `json:"kind,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// statusOf maps an error kind to its HTTP status.
func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindCheckpointMismatch:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindAlreadyExists:
		return http.StatusConflict
	case apperr.KindCurationInconsistency, apperr.KindValidationFailure:
		return http.StatusUnprocessableEntity
	case apperr.KindSourceUnavailable:
		return http.StatusBadGateway
	case apperr.KindGenerationTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err with the status of its kind. Server-side failures
// are logged and reported without detail.
func writeError(w http.ResponseWriter, op string, err error) {
	kind := apperr.KindOf(err)
	status := statusOf(kind)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway && status != http.StatusGatewayTimeout {
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, status, errorBody("internal error"))
		return
	}
	if status >= http.StatusInternalServerError {
		slog.Warn(op+" failed", slog.String("kind", string(kind)), slog.String("error", err.Error()))
	}
	body := errResponse{Error: err.Error(), Kind: kind}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		body.Metadata = ae.Metadata
	}
	writeJSON(w, status, body)
}
