// Package validate runs struct-tag validation on domain objects and turns
// the first failure into an apierr validation error.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/ehr/emr/internal/platform/apierr"
)

var (
	once sync.Once
	v    *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		v = validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
	})
	return v
}

// Struct validates s and returns nil or an *apierr.Error naming the first
// offending field. The message code is "<entity>.<field>.<tag>".
func Struct(entity string, s interface{}) error {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("validate %s: %w", entity, err)
	}
	fe := verrs[0]
	return apierr.Invalid(fe.Field(), fmt.Sprintf("%s.%s.%s", entity, fe.Field(), fe.Tag()), "%s", describe(fe))
}

// Var validates a single value against a tag expression, e.g. Var("gender", g, "oneof=M F O U").
func Var(field string, value interface{}, tag string) error {
	if err := instance().Var(value, tag); err != nil {
		return apierr.Invalid(field, field+".invalid", "%s is invalid", field)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
