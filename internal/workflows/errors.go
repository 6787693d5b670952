package workflows

import (
	"errors"
	"net/http"
)

// Domain errors for workflow operations.
var (
	ErrNotFound        = errors.New("workflow not found")
	ErrDuplicate       = errors.New("an active workflow already exists for this borrower and sector")
	ErrLaneNotFound    = errors.New("lane not found")
	ErrNotActive       = errors.New("workflow is not active")
	ErrStaleDecision   = errors.New("decision references an attempt that is no longer current")
	ErrLaneConflict    = errors.New("lane is not in a state that permits this transition")
	ErrNoLanes         = errors.New("workflow requires at least one lane")
	ErrInvalidIdentity = errors.New("borrower id and sector are required")
)

// MapHTTPStatus maps workflow domain errors to appropriate HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrLaneNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate), errors.Is(err, ErrStaleDecision), errors.Is(err, ErrLaneConflict), errors.Is(err, ErrNotActive):
		return http.StatusConflict
	case errors.Is(err, ErrNoLanes), errors.Is(err, ErrInvalidIdentity):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
