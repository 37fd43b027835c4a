package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"go-dm/internal/apperr"
)

type APIError struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
	Status int    `json:"status"`
}

func WriteJSON(w http.ResponseWriter, v any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, err error, reason string) {
	if err == nil {
		err = errors.New(http.StatusText(status))
	}
	WriteJSON(w, APIError{Error: err.Error(), Reason: reason, Status: status}, status)
}

// Fail maps an application error onto a status code and reason.
// Storage failures are reported without their cause.
func Fail(w http.ResponseWriter, err error) {
	var verr *apperr.ValidationError
	switch {
	case errors.As(err, &verr):
		WriteError(w, http.StatusBadRequest, err, "invalid_"+verr.Field)
	case errors.Is(err, apperr.ErrNotFound):
		WriteError(w, http.StatusNotFound, err, "not_found")
	case errors.Is(err, apperr.ErrConflict):
		WriteError(w, http.StatusConflict, err, "conflict")
	case errors.Is(err, apperr.ErrUnauthorized):
		WriteError(w, http.StatusUnauthorized, err, "unauthorized")
	case errors.Is(err, apperr.ErrRateLimited):
		WriteError(w, http.StatusTooManyRequests, err, "rate_limited")
	case apperr.IsStorage(err):
		WriteError(w, http.StatusInternalServerError, errors.New("storage unavailable"), "storage_error")
	default:
		WriteError(w, http.StatusInternalServerError, errors.New("internal error"), "internal")
	}
}

// DecodeJSON reads a JSON body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Invalid("body", err.Error())
	}
	return nil
}
