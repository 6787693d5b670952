package collections

import (
	"errors"
	"net/http"

	"github.com/crestline/renewals/pkg/storage"
)

var ErrEmptyCollection = errors.New("collection has no readable documents")

func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrEmptyCollection) {
		return http.StatusUnprocessableEntity
	}
	return storage.MapHTTPStatus(err)
}
