package prompts

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound      = errors.New("prompt not found")
	ErrDuplicate     = errors.New("prompt already exists")
	ErrEmptyTemplate = errors.New("prompt template is empty")
	ErrEmptyStage    = errors.New("prompt stage is empty")
)

func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, ErrEmptyTemplate), errors.Is(err, ErrEmptyStage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
