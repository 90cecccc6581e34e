// Package validation provides input validation for lostpaws requests.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Limits on request fields.
const (
	MaxAccountLength = 128
	MaxTextBytes     = 4096
	MaxPageSize      = 500
)

// ValidateAccount validates an account identifier: 1-128 printable
// characters with no whitespace.
func ValidateAccount(account string) error {
	if account == "" {
		return errors.New("account cannot be empty")
	}
	if !utf8.ValidString(account) {
		return errors.New("account must be valid UTF-8")
	}
	if utf8.RuneCountInString(account) > MaxAccountLength {
		return fmt.Errorf("account too long (max %d chars)", MaxAccountLength)
	}
	for _, r := range account {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return errors.New("account must not contain whitespace or control characters")
		}
	}
	return nil
}

// ValidateDescription validates a case description
func ValidateDescription(s string) error {
	return validateText("description", s)
}

// ValidateEvidence validates a finder's evidence text
func ValidateEvidence(s string) error {
	return validateText("evidence", s)
}

func validateText(field, s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	if len(s) > MaxTextBytes {
		return fmt.Errorf("%s too long (max %d bytes)", field, MaxTextBytes)
	}
	if !utf8.ValidString(s) {
		return fmt.Errorf("%s must be valid UTF-8", field)
	}
	return nil
}

// ValidatePage validates finder pagination parameters
func ValidatePage(start, count int) error {
	if start < 0 {
		return errors.New("start cannot be negative")
	}
	if count < 0 {
		return errors.New("count cannot be negative")
	}
	if count > MaxPageSize {
		return fmt.Errorf("count too large (max %d)", MaxPageSize)
	}
	return nil
}
