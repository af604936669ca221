// Package handlers implements the ledger HTTP endpoints. Every handler expects
// the Auth middleware to have placed the caller's user ID in the request context.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/apperr"
)

const dateLayout = "2006-01-02"

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// optionalString tells an absent JSON key apart from an explicit null.
type optionalString struct {
	Set   bool
	Value *string
}

func (o *optionalString) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Value = nil
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}

// patch returns nil when the key was absent and "" for null, which clears the field.
func (o optionalString) patch() *string {
	if !o.Set {
		return nil
	}
	if o.Value == nil {
		empty := ""
		return &empty
	}
	return o.Value
}

// userID returns the authenticated caller or writes a 401.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Missing or invalid authentication context")
		return "", false
	}
	return id, true
}

// decodeBody reads a JSON request body into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return apperr.Validation("Request body is required")
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("Request body is required")
		}
		return apperr.Validation("Request body must be valid JSON")
	}
	return nil
}

// parseTimestamp accepts an RFC 3339 timestamp or a bare YYYY-MM-DD date (midnight UTC).
func parseTimestamp(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(dateLayout, value); err == nil {
		return t, nil
	}
	return time.Time{}, apperr.Validation("%s must be a valid ISO8601 timestamp", field)
}

func optionalTimestamp(field string, value *string) (*time.Time, error) {
	if value == nil {
		return nil, nil
	}
	t, err := parseTimestamp(field, *value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func isDateOnly(value string) bool {
	_, err := time.Parse(dateLayout, strings.TrimSpace(value))
	return err == nil
}

func queryInt(r *http.Request, name string) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, apperr.Validation("%s must be a non-negative integer", name)
	}
	return n, nil
}

// HealthHandler answers liveness probes.
type HealthHandler struct {
	now func() time.Time
}

// NewHealthHandler creates a health handler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{now: time.Now}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   h.now().UTC().Format(time.RFC3339),
	})
}
