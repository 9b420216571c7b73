package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/planweave/planweave/internal/domain"
)

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request, bodyLimit int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeDomainError maps the error taxonomy onto HTTP status codes for
// failures that happen before a run's event stream has started.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidSignature):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrMalformedPayload):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrUnknownTask),
		errors.Is(err, domain.ErrUnresolvedReference),
		errors.Is(err, domain.ErrDuplicateBinding),
		errors.Is(err, domain.ErrDuplicateIdentifier):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrBackendTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrBackendUnavailable):
		status = http.StatusBadGateway
	default:
		slog.Error("unhandled domain error", "error", err)
		writeJSON(w, status, errorResponse{Error: "internal server error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: domain.Kind(err)})
}
