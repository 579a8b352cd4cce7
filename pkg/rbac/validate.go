package rbac

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+([-_.][a-z0-9]+)*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON names so messages match request bodies
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := v.RegisterValidation("rbac_action", func(fl validator.FieldLevel) bool {
		_, err := ParseAction(fl.Field().String())
		return err == nil
	}); err != nil {
		panic(err)
	}

	if err := v.RegisterValidation("rbac_slug", func(fl validator.FieldLevel) bool {
		return slugPattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}

	return v
}

// validateInput runs struct validation and converts failures into a single
// ErrValidation error listing every offending field
func validateInput(input interface{}) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return NewValidationError("invalid input: %v", err)
	}

	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		messages = append(messages, describeFieldError(fe))
	}
	return NewValidationError("%s", strings.Join(messages, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}

	switch fe.Tag() {
	case "required":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must be a list", field)
		}
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must not be empty", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "rbac_action":
		return fmt.Sprintf("%s has unknown action %q", field, fe.Value())
	case "rbac_slug":
		return fmt.Sprintf("%s must be lowercase letters, digits and separators", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// checkDuplicateGrants rejects a grant list naming the same resource twice
func checkDuplicateGrants(grants []GrantInput) error {
	seen := make(map[string]struct{}, len(grants))
	for _, g := range grants {
		if _, ok := seen[g.ResourceID]; ok {
			return NewValidationError(errDuplicateGrant, g.ResourceID)
		}
		seen[g.ResourceID] = struct{}{}
	}
	return nil
}
