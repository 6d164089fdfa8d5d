package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks a domain model against its struct constraints. Services
// call this at their boundary before handing the model to the datastore, so
// the error reports every failing field in one round trip.
func Validate(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var sb strings.Builder
		sb.WriteString("validation failed:")
		for _, fieldErr := range validationErrors {
			sb.WriteString(fmt.Sprintf(" field '%s' failed on '%s' (value: '%v');",
				fieldErr.Namespace(), fieldErr.Tag(), fieldErr.Value()))
		}
		return errors.New(strings.TrimSuffix(sb.String(), ";"))
	}
	return err
}
