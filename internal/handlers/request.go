package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lumiere-salon/api/internal/platform/httpx"
	"github.com/lumiere-salon/api/internal/platform/requestctx"
)

const maxRequestBodySize = 64 * 1024

var errEmptyBody = errors.New("request body is required")

// decodeJSONBody decodes a single JSON object, rejecting unknown fields and trailing data. An empty body is
// accepted only when allowEmpty is set.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			if allowEmpty {
				return nil
			}
			return errEmptyBody
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	if decoder.More() {
		return errors.New("invalid request body: extraneous data")
	}
	return nil
}

// fieldError is a validation failure attributable to one request field.
type fieldError struct {
	field   string
	message string
}

func (e *fieldError) Error() string { return e.field + " " + e.message }

func invalidField(field, message string) error {
	return &fieldError{field: field, message: message}
}

func writeInvalidRequest(w http.ResponseWriter, r *http.Request, err error) {
	problem := httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest)
	var fe *fieldError
	if errors.As(err, &fe) {
		problem = problem.ForField(fe.field)
	}
	httpx.WriteError(r.Context(), w, problem)
}

// actorFrom returns the caller asserted by the gateway, if any.
func actorFrom(r *http.Request) (requestctx.Actor, bool) {
	actor, ok := requestctx.ActorFrom(r.Context())
	if !ok || strings.TrimSpace(actor.ID) == "" {
		return requestctx.Actor{}, false
	}
	return actor, true
}

// RequireAdmin rejects requests that do not carry a staff identity.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(r)
		if !ok {
			httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
			return
		}
		if !actor.Admin {
			httpx.WriteError(r.Context(), w, httpx.NewError("forbidden", "staff access required", http.StatusForbidden))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parseOptionalTime(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, invalidField(field, "must be a valid RFC3339 timestamp")
	}
	return ts.UTC(), nil
}

func parseRequiredTime(field, raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, invalidField(field, "is required")
	}
	return parseOptionalTime(field, raw)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	value := formatTime(*t)
	return &value
}
