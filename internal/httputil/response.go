package httputil

import (
	"encoding/json"
	"net/http"

	svcerrors "github.com/R3E-Network/raffle/internal/errors"
)

// maxBodyBytes bounds decoded request bodies.
const maxBodyBytes = 1 << 20

// WriteJSON writes data with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes err as the {error, code} envelope. Errors that are not
// ServiceErrors become 500s.
func WriteError(w http.ResponseWriter, err error) {
	se := svcerrors.GetServiceError(err)
	if se == nil {
		se = svcerrors.Internal("internal error", err)
	}
	WriteJSON(w, se.HTTPStatus, se)
}

// BadRequest writes a 400 with message.
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, svcerrors.BadRequest(message))
}

// NotFound writes a 404 with message.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, svcerrors.NotFound(message, nil))
}

// InternalError writes a 500 with message.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, svcerrors.Internal(message, nil))
}

// DecodeJSON decodes the request body into dst, writing a 400 and returning false on failure.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		BadRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
