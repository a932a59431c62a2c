package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/mind-engage/mindengage-checkpoint/internal/errs"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

type errorBody struct {
	Code    errs.Code `json:"code"`
	Message string    `json:"message"`
	Entity  string    `json:"entity,omitempty"`
	Field   string    `json:"field,omitempty"`
}

// StatusFor maps an engine error to an HTTP status.
func StatusFor(err error) int {
	switch errs.CodeOf(err) {
	case errs.CodeNotFound:
		return http.StatusNotFound
	case errs.CodeInvalidInput:
		return http.StatusBadRequest
	case errs.CodeInvalidTransition, errs.CodeStaleWrite, errs.CodeSyncConflict, errs.CodeAttemptsExhausted:
		return http.StatusConflict
	case errs.CodeChecksumMismatch, errs.CodeAccommodationNotApproved, errs.CodeRetryExhausted:
		return http.StatusUnprocessableEntity
	case errs.CodeIdentityRequired:
		return http.StatusForbidden
	case errs.CodeScoringUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Code: errs.CodeOf(err), Message: err.Error()}
	var e *errs.Error
	if errors.As(err, &e) {
		body.Entity, body.Field = e.Entity, e.Field
		if e.Msg != "" {
			body.Message = e.Msg
		}
	}
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		body.Message = "internal error"
	}
	respondJSON(w, status, map[string]errorBody{"error": body})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]errorBody{"error": {Code: errs.CodeInvalidInput, Message: "bad json"}})
		return false
	}
	return true
}

func forbidden(w http.ResponseWriter) {
	http.Error(w, "forbidden", http.StatusForbidden)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil && v >= 0 {
		return v
	}
	return def
}
