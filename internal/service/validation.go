package service

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/readaloud-api/internal/models"
	appErrors "github.com/noah-isme/readaloud-api/pkg/errors"
	"github.com/noah-isme/readaloud-api/pkg/security"
)

// NewValidator returns a validator with the project's custom tags registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	if err := security.RegisterValidators(v); err != nil {
		panic(err)
	}
	return v
}

// validationError converts validator output into a VALIDATION_ERROR carrying per-field details.
func validationError(err error, message string) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[toSnake(fe.Field())] = describeTag(fe)
	}
	return appErrors.WithDetails(appErrors.ErrValidation, message, details)
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case security.PasswordTag:
		return "must be at least 8 characters with upper, lower and a digit, and not a common password"
	default:
		return "is invalid"
	}
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// requireStaff rejects principals that are not teachers or admins.
func requireStaff(principal *models.JWTClaims) error {
	if principal == nil {
		return appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	if !principal.IsStaff() {
		return appErrors.Clone(appErrors.ErrForbidden, "teacher or admin role required")
	}
	return nil
}

// staffScope returns the teacher id that bounds a staff principal's data, or "" for admins.
func staffScope(principal *models.JWTClaims) (string, error) {
	if err := requireStaff(principal); err != nil {
		return "", err
	}
	if principal.Role == models.RoleAdmin {
		return "", nil
	}
	return principal.UserID, nil
}
