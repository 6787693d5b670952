package storage

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// Domain errors for storage operations.
var (
	ErrNotFound   = errors.New("blob not found")
	ErrEmptyKey   = errors.New("blob key cannot be empty")
	ErrInvalidKey = errors.New("blob key contains invalid path segments")
)

// MapHTTPStatus maps storage errors to appropriate HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrEmptyKey) || errors.Is(err, ErrInvalidKey) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// ParseMaxResults parses a max_results query value, clamped to limit.
// An empty value yields the limit itself.
func ParseMaxResults(value string, limit int32) (int32, error) {
	if value == "" {
		return limit, nil
	}

	n, err := strconv.ParseInt(value, 10, 32)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid max_results: %s", value)
	}

	if int32(n) > limit {
		return limit, nil
	}
	return int32(n), nil
}
