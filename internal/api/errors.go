package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/houseflow-core/internal/accessory"
)

// Error is the JSON body of every failed request. The shape matches the
// upgrade endpoint's refusals so clients decode one error type.
type Error struct {
	Kind        string `json:"error"`
	Description string `json:"description,omitempty"`
}

// API error kinds. Characteristic failures use the accessory error value
// as their kind instead.
const (
	ErrKindBadRequest       = "bad-request"
	ErrKindNotFound         = "not-found"
	ErrKindInternal         = "internal-error"
	ErrKindUnavailable      = "unavailable"
	ErrKindInvalidAccessory = "invalid-accessory-id"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, kind, description string) {
	writeJSON(w, status, Error{Kind: kind, Description: description})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, description string) {
	writeError(w, http.StatusBadRequest, ErrKindBadRequest, description)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, description string) {
	writeError(w, http.StatusNotFound, ErrKindNotFound, description)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, description string) {
	writeError(w, http.StatusInternalServerError, ErrKindInternal, description)
}

// writeAccessoryError writes a characteristic call failure. Errors outside
// the accessory taxonomy are internal.
func writeAccessoryError(w http.ResponseWriter, err error) {
	kind, ok := accessory.AsError(err)
	if !ok {
		writeInternalError(w, err.Error())
		return
	}
	writeError(w, kind.HTTPStatus(), string(kind), err.Error())
}

// writeRequestError classifies a failure to decode path or body input. Names
// outside the vocabulary keep their accessory error kind.
func writeRequestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, accessory.ErrServiceNotSupported),
		errors.Is(err, accessory.ErrCharacteristicNotSupported):
		writeAccessoryError(w, err)
	default:
		writeBadRequest(w, err.Error())
	}
}
