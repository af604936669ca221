package store

import (
	"encoding/base64"
	"strings"

	"github.com/dvloznov/finance-ledger/internal/apperr"
)

const cursorSeparator = "\x00"

// EncodeCursor turns the last returned key into an opaque pagination token.
func EncodeCursor(userID, sortKey string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(userID + cursorSeparator + sortKey))
}

// DecodeCursor reverses EncodeCursor. An empty cursor decodes to empty strings.
func DecodeCursor(cursor string) (userID, sortKey string, err error) {
	if cursor == "" {
		return "", "", nil
	}
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", "", apperr.Validation("invalid cursor")
	}
	parts := strings.SplitN(string(b), cursorSeparator, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", apperr.Validation("invalid cursor")
	}
	return parts[0], parts[1], nil
}

// DecodeQueryCursor decodes a cursor that must belong to userID's partition.
func DecodeQueryCursor(cursor, userID string) (string, error) {
	owner, sk, err := DecodeCursor(cursor)
	if err != nil {
		return "", err
	}
	if cursor != "" && owner != userID {
		return "", apperr.Validation("invalid cursor")
	}
	return sk, nil
}

// PageLimit applies DefaultPageSize to a non-positive limit.
func PageLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	return limit
}

// InRange reports whether sortKey satisfies the prefix and bounds of q.
func InRange(q Query, sortKey string) bool {
	if q.Prefix != "" && !strings.HasPrefix(sortKey, q.Prefix) {
		return false
	}
	if q.From != "" && sortKey < q.From {
		return false
	}
	if q.To != "" && sortKey > q.To {
		return false
	}
	return true
}
