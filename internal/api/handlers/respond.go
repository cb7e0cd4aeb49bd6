package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Harshitk-cp/integrity/internal/domain"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the sentinel errors of the inhibition pipeline to
// HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidLayer),
		errors.Is(err, domain.ErrInvalidReference),
		errors.Is(err, domain.ErrInvalidRelation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrGraphInconsistency):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrSessionClosed),
		errors.Is(err, domain.ErrTerminalState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrAdapterFault):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, domain.ErrQueryTimeout):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// assertionInput accepts either {"subject":..,"relation":..,"object":..} or
// the compact "subject:relation:object" form.
type assertionInput struct {
	domain.Assertion
}

func (a *assertionInput) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := domain.ParseAssertion(s)
		if err != nil {
			return err
		}
		a.Assertion = parsed
		return nil
	}
	var raw struct {
		Subject  string `json:"subject"`
		Relation string `json:"relation"`
		Object   string `json:"object"`
		Negated  bool   `json:"negated"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	rel := strings.TrimSpace(raw.Relation)
	a.Assertion = domain.Assertion{
		Subject: strings.TrimSpace(raw.Subject),
		Object:  strings.TrimSpace(raw.Object),
		Negated: raw.Negated || strings.HasPrefix(rel, "!"),
	}
	if rel != "" {
		a.Relation = domain.NormalizeRelation(strings.TrimPrefix(rel, "!"))
	}
	return nil
}

func assertions(in []assertionInput) []domain.Assertion {
	out := make([]domain.Assertion, 0, len(in))
	for _, a := range in {
		out = append(out, a.Assertion)
	}
	return out
}
