package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"fieldwatch/internal/milestone"
	"fieldwatch/internal/types"
	"fieldwatch/internal/vegetation"
)

// Validator wraps go-playground/validator with the domain tags used by the
// request DTOs:
//
//	vegetation_index  a known index name (case-insensitive)
//	milestone_status  a canonical or legacy milestone status
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator and registers the custom tags. Field names
// in errors follow the json tag.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	mustRegister(v, "vegetation_index", func(fl validator.FieldLevel) bool {
		_, err := vegetation.ParseIndex(fl.Field().String())
		return err == nil
	})
	mustRegister(v, "milestone_status", func(fl validator.FieldLevel) bool {
		return milestone.Normalize(fl.Field().String()).Valid()
	})

	return &Validator{validate: v, logger: logger}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("registering validation %q: %v", tag, err))
	}
}

// FieldError describes one failed rule.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidateStruct validates s and returns an AppError whose code reflects the
// first failing rule. Every failure is listed under details.fields.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		v.logger.Error("validator misuse", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request could not be validated", err)
	}

	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{
			Field:   fieldPath(fe),
			Rule:    fe.Tag(),
			Message: describe(fe),
		})
	}

	first := verrs[0]
	return types.NewAppError(tagToErrorCode(first), fields[0].Message, err).
		WithDetails(map[string]any{"fields": fields})
}

// fieldPath drops the top-level struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func tagToErrorCode(fe validator.FieldError) types.ErrorCode {
	switch fe.Tag() {
	case "required", "required_without", "required_with":
		return types.ErrCodeValidationMissingField
	case "latitude", "longitude":
		return types.ErrCodeValidationInvalidGeometry
	case "vegetation_index":
		return types.ErrCodeValidationInvalidIndex
	case "milestone_status":
		return types.ErrCodeValidationInvalidStatus
	case "min", "max", "gte", "lte", "gt", "lt":
		switch fe.Kind() {
		case reflect.Slice, reflect.Array, reflect.Map:
			return types.ErrCodeValidationBatchSize
		case reflect.String:
			return types.ErrCodeValidationInvalidRequest
		}
		return types.ErrCodeValidationInvalidNumber
	}
	return types.ErrCodeValidationInvalidRequest
}

func describe(fe validator.FieldError) string {
	field := fieldPath(fe)
	switch fe.Tag() {
	case "required", "required_without", "required_with":
		return field + " is required"
	case "latitude":
		return field + " must be a latitude between -90 and 90"
	case "longitude":
		return field + " must be a longitude between -180 and 180"
	case "vegetation_index":
		return fmt.Sprintf("%s: unknown vegetation index %q", field, fe.Value())
	case "milestone_status":
		return fmt.Sprintf("%s: unknown milestone status %q", field, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}
