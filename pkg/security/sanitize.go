package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// SanitizeText strips all markup from user supplied free text such as review feedback.
func SanitizeText(input string) string {
	return strings.TrimSpace(strictPolicy.Sanitize(input))
}

// SanitizeOptional sanitizes a pointer value, returning nil when nothing remains.
func SanitizeOptional(input *string) *string {
	if input == nil {
		return nil
	}
	clean := SanitizeText(*input)
	if clean == "" {
		return nil
	}
	return &clean
}
