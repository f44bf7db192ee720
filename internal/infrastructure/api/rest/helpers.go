package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/smilemakc/vyasa/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeErr(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// statusForDomainErr maps a domain.DomainError code to an HTTP status,
// falling back to 500 for anything unrecognized or non-domain.
func statusForDomainErr(err error) int {
	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		return http.StatusInternalServerError
	}
	switch domainErr.Code {
	case domain.ErrCodeNotFound:
		return http.StatusNotFound
	case domain.ErrCodeInvalidInput, domain.ErrCodeInvalidType, domain.ErrCodeValidationFailed:
		return http.StatusBadRequest
	case domain.ErrCodeAlreadyExists:
		return http.StatusConflict
	case domain.ErrCodeInvalidState, domain.ErrCodeInvariantViolated:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func parsePathUUID(w http.ResponseWriter, r *http.Request, field string) (uuid.UUID, bool) {
	raw := r.PathValue(field)
	id, err := uuid.Parse(raw)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid "+field)
		return uuid.Nil, false
	}
	return id, true
}
