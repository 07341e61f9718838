// Package convert maps remote documents to cache entities and back. Every
// document passes through a tagged transfer type that is validated and
// defaulted in one place before it reaches a cache.
package convert

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Defaults applied to absent fields.
const (
	DefaultUsername = "Unknown"
	DefaultAvatar   = "👤"
)

// ErrInvalid marks a document that failed validation.
var ErrInvalid = errors.New("convert: invalid document")

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

func check(kind, id string, dto any) error {
	if err := getValidator().Struct(dto); err != nil {
		return fmt.Errorf("%w: %s %q: %w", ErrInvalid, kind, id, err)
	}
	return nil
}
