package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/SAP-F-2025/access-control-service/internal/models"
)

// Validator wraps go-playground/validator with the access-control rules registered
type Validator struct {
	validate *validator.Validate
}

// ValidationError represents a single field failure
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
	Rule    string      `json:"rule,omitempty"`
}

type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	if len(ve) == 1 {
		return fmt.Sprintf("validation failed: %s %s", ve[0].Field, ve[0].Message)
	}
	return fmt.Sprintf("validation failed: %d field errors", len(ve))
}

// New creates a validator with business rules registered
func New() *Validator {
	validate := validator.New()

	// Report json field names rather than Go field names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	v := &Validator{validate: validate}
	v.registerBusinessRules()

	return v
}

// Validate returns ValidationErrors, or nil when s is valid
func (v *Validator) Validate(s interface{}) error {
	if err := v.validate.Struct(s); err != nil {
		return ToValidationErrors(err)
	}
	return nil
}

// ToValidationErrors converts validator output into ValidationErrors
func ToValidationErrors(err error) ValidationErrors {
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return ValidationErrors{{Field: "request", Message: err.Error(), Rule: "invalid"}}
	}

	out := make(ValidationErrors, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Message: getErrorMessage(fe),
			Value:   fe.Value(),
			Rule:    fe.Tag(),
		})
	}
	return out
}

// registerBusinessRules registers custom business rule validators
func (v *Validator) registerBusinessRules() {
	// Role must be one of the closed role set
	v.validate.RegisterValidation("user_role", func(fl validator.FieldLevel) bool {
		return models.UserRole(fl.Field().String()).IsValid()
	})

	// Permission keys must come from the catalog
	v.validate.RegisterValidation("permission_key", func(fl validator.FieldLevel) bool {
		return models.Permission(fl.Field().String()).IsValid()
	})

	v.validate.RegisterValidation("audit_event_type", func(fl validator.FieldLevel) bool {
		return models.AuditEventType(fl.Field().String()).IsValid()
	})

	// Reasons are free text but not unbounded
	v.validate.RegisterValidation("audit_reason", func(fl validator.FieldLevel) bool {
		return len(strings.TrimSpace(fl.Field().String())) <= 500
	})
}

// getErrorMessage returns user-friendly error messages
func getErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", err.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", err.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", err.Param())
	case "email":
		return "must be a valid email address"
	case "user_role":
		return "must be a valid user role"
	case "permission_key":
		return "must be a known permission"
	case "audit_event_type":
		return "must be a known audit event type"
	case "audit_reason":
		return "must not exceed 500 characters"
	default:
		return fmt.Sprintf("validation failed for rule '%s'", err.Tag())
	}
}
