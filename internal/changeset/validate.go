package changeset

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pitabwire/ria/model"
)

// NewValidator returns a validator that reports members by their JSON names.
// Association fields should carry `validate:"-"` so that related entities
// are validated through their own entries.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

func validationResults(err error) []model.ValidationResult {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return []model.ValidationResult{{Message: err.Error()}}
	}
	out := make([]model.ValidationResult, 0, len(fields))
	for _, fe := range fields {
		out = append(out, model.ValidationResult{
			Message:   ruleMessage(fe.Field(), fe),
			Members:   []string{fe.Field()},
			ErrorCode: fe.Tag(),
		})
	}
	return out
}

func paramResults(name string, err error) []model.ValidationResult {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return []model.ValidationResult{{Message: err.Error(), Members: []string{name}}}
	}
	out := make([]model.ValidationResult, 0, len(fields))
	for _, fe := range fields {
		out = append(out, model.ValidationResult{
			Message:   ruleMessage(name, fe),
			Members:   []string{name},
			ErrorCode: fe.Tag(),
		})
	}
	return out
}

func ruleMessage(member string, fe validator.FieldError) string {
	if fe.Param() != "" {
		return fmt.Sprintf("%s failed the %s=%s rule", member, fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s failed the %s rule", member, fe.Tag())
}

// resultsOf converts the error of a method-level validator.
func resultsOf(err error) []model.ValidationResult {
	var invalid *model.ValidationError
	if errors.As(err, &invalid) && len(invalid.Results) > 0 {
		return invalid.Results
	}
	return []model.ValidationResult{{Message: err.Error()}}
}
