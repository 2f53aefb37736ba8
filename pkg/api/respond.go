package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/burrowhq/burrow/pkg/errdefs"
)

// envelope is the uniform response shape: {success, data?, error?}.
type envelope struct {
	Success bool          `json:"success"`
	Data    interface{}   `json:"data,omitempty"`
	Error   *errorPayload `json:"error,omitempty"`
}

type errorPayload struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func respond(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, err error) {
	payload := &errorPayload{
		Code:    errdefs.Code(err),
		Message: err.Error(),
	}

	var pe *errdefs.Error
	if errors.As(err, &pe) {
		payload.Details = pe.Details
	}

	status := errdefs.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		// Never leak internals to callers.
		payload.Message = "internal error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: payload})
}

// decode parses a JSON request body into dst.
func decode(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errdefs.Wrap(errdefs.KindValidation, "malformed request body", err)
	}
	return nil
}
