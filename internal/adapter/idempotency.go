package adapter

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dunglas/httpsfv"
	"github.com/google/uuid"
)

// IdempotencyHeader carries the per-mutation key as an RFC 8941 string item.
const IdempotencyHeader = "Idempotency-Key"

// NewIdempotencyKey returns a fresh random key.
func NewIdempotencyKey() string {
	return uuid.NewString()
}

// SetIdempotencyKey serializes key onto req. Empty keys are skipped.
func SetIdempotencyKey(req *http.Request, key string) error {
	if key == "" {
		return nil
	}
	v, err := httpsfv.Marshal(httpsfv.NewItem(key))
	if err != nil {
		return fmt.Errorf("encoding idempotency key: %w", err)
	}
	req.Header.Set(IdempotencyHeader, v)
	return nil
}

// ParseIdempotencyKey extracts the key from an Idempotency-Key header value.
// Examples:
//   - "8e03978e-40d5-43e8-bc93-6894a57f9324" → 8e03978e-40d5-43e8-bc93-6894a57f9324
//   - "abc";kind=retry → abc (params ignored)
func ParseIdempotencyKey(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("empty Idempotency-Key header")
	}
	item, err := httpsfv.UnmarshalItem([]string{header})
	if err != nil {
		return "", fmt.Errorf("invalid Idempotency-Key header: %w", err)
	}
	key, ok := item.Value.(string)
	if !ok {
		return "", errors.New("Idempotency-Key value must be a string")
	}
	return key, nil
}
