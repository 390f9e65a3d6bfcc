// Package admin implements the Admin Mutation Protocol of spec §4.6:
// a JSON CRUD API over forwards/upstreams/upstream-groups/routes that
// validates, rebuilds, and atomically swaps a new state.Snapshot under
// a write lock. JSON envelope shape and route conventions are modeled
// on caddy's admin.go; config mutation and validation reuse
// internal/config verbatim.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/llmproxy/llmproxy/internal/apperr"
)

// envelope is the wire shape of every admin response (spec §6):
// success = {code, status:"success", data?}; error = {code,
// status:"error", error:{type, message}}.
type envelope struct {
	Code   int            `json:"code"`
	Status string         `json:"status"`
	Data   any            `json:"data,omitempty"`
	Error  *envelopeError `json:"error,omitempty"`
}

type envelopeError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeSuccess(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, envelope{Code: code, Status: "success", Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	code := apperr.HTTPStatus(err)
	writeJSON(w, code, envelope{
		Code:   code,
		Status: "error",
		Error:  &envelopeError{Type: apperr.AdminErrorType(err), Message: err.Error()},
	})
}

func writeValidationError(w http.ResponseWriter, err error) {
	writeError(w, apperr.Wrap(apperr.KindValidation, err, "%s", err.Error()))
}
