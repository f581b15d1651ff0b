package utils

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by the name clients send.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		for _, tag := range []string{"json", "param", "query"} {
			name := strings.SplitN(field.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return field.Name
	})
	return v
}

// Validate checks the validate tags of value.
func Validate(value any) error {
	if err := validate.Struct(value); err != nil {
		return ValidationError(err)
	}
	return nil
}

// ValidationError converts the first failed rule into an InvalidConfig error.
// Values are left out since request bodies carry private keys.
func ValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return ferrors.Wrap(ferrors.InvalidConfig, err, "invalid request")
	}

	fe := verrs[0]
	msg := fmt.Sprintf("failed rule '%s'", fe.Tag())
	if fe.Param() != "" {
		msg = fmt.Sprintf("failed rule '%s=%s'", fe.Tag(), fe.Param())
	}
	return ferrors.New(ferrors.InvalidConfig, msg).WithField(fe.Field())
}
