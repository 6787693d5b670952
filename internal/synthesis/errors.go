package synthesis

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound  = errors.New("memo not found")
	ErrDuplicate = errors.New("memo already exists for workflow")
)

func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
