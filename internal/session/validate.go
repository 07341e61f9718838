package session

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var (
	nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)
	validate   = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("session_name", func(fl validator.FieldLevel) bool {
		return nameRegexp.MatchString(fl.Field().String())
	})
	return v
}

// ValidateName checks that name is usable as a directory under sessions/.
func ValidateName(name string) error {
	if err := validate.Var(name, "session_name"); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid session name %q: must match ^[a-z0-9_-]{1,64}$", name)
		}
		return err
	}
	return nil
}
