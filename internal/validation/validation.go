// Package validation provides input validation helpers and middleware for the CrimeCast API.
package validation

import (
	"net/http"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// Password policy. bcrypt ignores everything past 72 bytes.
const (
	MinPasswordLength = 6
	MaxPasswordBytes  = 72
)

// MaxEmailLength follows the RFC 5321 path limit.
const MaxEmailLength = 254

var phoneRegex = regexp.MustCompile(`^\+?[0-9 ()\-.]{7,20}$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// SanitizeString trims whitespace, drops null bytes and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		n := maxLen
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// IsValidEmail checks for a single bare address ("a@b.com", no display name).
func IsValidEmail(email string) bool {
	if email == "" || len(email) > MaxEmailLength {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	return addr.Address == email && addr.Name == ""
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs every validator and collects the failures
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// Email checks a field holds a valid email address
func Email(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidEmail(value) {
			return &ValidationError{Field: field, Message: "must be a valid email address"}
		}
		return nil
	}
}

// Password enforces the password policy.
func Password(field, value string) func() *ValidationError {
	return func() *ValidationError {
		switch {
		case len([]rune(value)) < MinPasswordLength:
			return &ValidationError{Field: field, Message: "must be at least 6 characters"}
		case len(value) > MaxPasswordBytes:
			return &ValidationError{Field: field, Message: "must be at most 72 bytes"}
		}
		return nil
	}
}

// Phone accepts digits with common separators and an optional leading +.
func Phone(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !phoneRegex.MatchString(value) {
			return &ValidationError{Field: field, Message: "must be a valid phone number"}
		}
		return nil
	}
}

// IDParamMiddleware rejects requests whose :id URL parameter is not a
// positive integer.
func IDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Param("id")
		if raw != "" {
			if id, err := strconv.ParseInt(raw, 10, 64); err != nil || id <= 0 {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error":   "invalid_id",
					"message": "id must be a positive integer",
				})
				return
			}
		}
		c.Next()
	}
}
