package security

import (
	"errors"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// PasswordTag is the validator tag enforcing password strength.
const PasswordTag = "strongpassword"

const minPasswordLength = 8

var commonPasswords = map[string]struct{}{
	"password":  {},
	"password1": {},
	"12345678":  {},
	"123456789": {},
	"qwerty123": {},
	"iloveyou":  {},
	"welcome1":  {},
	"letmein1":  {},
	"admin123":  {},
	"teacher1":  {},
	"student1":  {},
}

// ValidatePasswordStrength reports why a password is too weak, or nil.
func ValidatePasswordStrength(password string) error {
	if len(password) < minPasswordLength {
		return errors.New("password must be at least 8 characters")
	}
	if _, ok := commonPasswords[strings.ToLower(password)]; ok {
		return errors.New("password is too common")
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return errors.New("password must contain upper and lower case letters and a digit")
	}
	return nil
}

// RegisterValidators installs the custom tags on v.
func RegisterValidators(v *validator.Validate) error {
	return v.RegisterValidation(PasswordTag, func(fl validator.FieldLevel) bool {
		return ValidatePasswordStrength(fl.Field().String()) == nil
	})
}
