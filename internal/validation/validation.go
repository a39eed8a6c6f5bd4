// Package validation checks and cleans client input before it reaches the
// risk engine or the reputation store.
package validation

import (
	"math"
	"net/http"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
)

const (
	// MaxRequestSize bounds request bodies.
	MaxRequestSize = 1 << 20
	// MaxNoteLength bounds the free-text note scanned for scam phrasing,
	// in characters.
	MaxNoteLength = 2000
)

// receiverIDRegex accepts payment handles ("name@bank"), phone numbers and
// account numbers.
var receiverIDRegex = regexp.MustCompile(`^[a-zA-Z0-9._+\-]{1,128}(@[a-zA-Z0-9._\-]{1,64})?$`)

// IsValidReceiverID reports whether id is a well-formed receiver identifier.
func IsValidReceiverID(id string) bool {
	return receiverIDRegex.MatchString(id)
}

// SanitizeReceiverID normalizes a receiver identifier for lookups.
func SanitizeReceiverID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// SanitizeString trims s, drops control characters other than newline and
// tab, and cuts it to at most maxChars characters without splitting one.
func SanitizeString(s string, maxChars int) string {
	s = strings.Map(func(r rune) rune {
		if r == utf8.RuneError || (unicode.IsControl(r) && r != '\n' && r != '\t') {
			return -1
		}
		return r
	}, strings.TrimSpace(s))

	if utf8.RuneCountInString(s) > maxChars {
		n := 0
		for i := range s {
			if n == maxChars {
				s = s[:i]
				break
			}
			n++
		}
	}
	return strings.TrimSpace(s)
}

// FieldError describes one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors is the list of problems found in one request.
type Errors []FieldError

// Error implements the error interface
func (e Errors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Fields collects field errors. The zero value is ready to use.
type Fields struct {
	errs Errors
}

func (f *Fields) add(field, msg string) {
	f.errs = append(f.errs, FieldError{Field: field, Message: msg})
}

// Receiver requires a well-formed receiver identifier.
func (f *Fields) Receiver(field, value string) *Fields {
	switch v := strings.TrimSpace(value); {
	case v == "":
		f.add(field, "is required")
	case !IsValidReceiverID(v):
		f.add(field, "must be a payment handle, phone or account number")
	}
	return f
}

// Amount requires a finite number above zero.
func (f *Fields) Amount(field string, value float64) *Fields {
	switch {
	case math.IsNaN(value) || math.IsInf(value, 0):
		f.add(field, "must be a finite number")
	case value <= 0:
		f.add(field, "must be greater than zero")
	}
	return f
}

// Count rejects a negative optional count.
func (f *Fields) Count(field string, value *int) *Fields {
	if value != nil && *value < 0 {
		f.add(field, "must not be negative")
	}
	return f
}

// Errors returns what was collected, nil if nothing.
func (f *Fields) Errors() Errors {
	return f.errs
}

// Reject writes a 400 for the collected errors and reports whether it did.
func (f *Fields) Reject(c *gin.Context) bool {
	if len(f.errs) == 0 {
		return false
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":   "validation_error",
		"message": f.errs.Error(),
		"details": f.errs,
	})
	return true
}

// RequestSizeMiddleware refuses bodies over maxSize. A declared length over
// the limit gets 413 straight away; an undeclared one is cut off while read.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":   "request_too_large",
				"message": "Request body is too large",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// ReceiverParamMiddleware rejects malformed :id parameters on receiver
// routes.
func ReceiverParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id != "" && !IsValidReceiverID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_receiver",
				"message": "receiver must be a payment handle, phone or account number",
			})
			return
		}
		c.Next()
	}
}
