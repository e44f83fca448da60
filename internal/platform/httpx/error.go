package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/lumiere-salon/api/internal/platform/requestctx"
)

const (
	maxCodeLength    = 80
	maxMessageLength = 512
	maxFieldLength   = 64
)

// Error is the JSON problem returned for every non-2xx response.
type Error struct {
	Code    string
	Message string
	Status  int
	// Field names the request attribute that failed validation, when there is one.
	Field string
}

type envelope struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// NewError builds an Error, defaulting to 500 when status is unset.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clean(code, maxCodeLength),
		Message: clean(message, maxMessageLength),
		Status:  status,
	}
}

// ForField returns a copy of e pointing at the offending request field.
func (e Error) ForField(field string) Error {
	e.Field = clean(field, maxFieldLength)
	return e
}

func (e Error) Error() string {
	if e.Field != "" {
		return e.Code + " (" + e.Field + "): " + e.Message
	}
	return e.Code + ": " + e.Message
}

// WriteError renders err, stamping the chi request id and the trace id carried by ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	WriteJSON(w, status, envelope{
		Error:     err.Code,
		Message:   err.Message,
		Status:    status,
		Field:     err.Field,
		RequestID: clean(middleware.GetReqID(ctx), maxCodeLength),
		TraceID:   clean(requestctx.TraceID(ctx), 64),
	})
}

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// clean flattens line breaks and truncates on a rune boundary.
func clean(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(value))
	if len(value) <= limit {
		return value
	}
	value = value[:limit]
	for !utf8.ValidString(value) {
		value = value[:len(value)-1]
	}
	return value
}
