// Package validation holds input policies applied before records are stored.
package validation

import (
	"errors"
	"unicode"
	"unicode/utf8"
)

// MinPasswordLength is the minimum number of characters in a password.
const MinPasswordLength = 8

var (
	ErrPasswordTooShort   = errors.New("password must be at least 8 characters")
	ErrPasswordWhitespace = errors.New("password must not contain whitespace")
)

// ValidatePassword enforces the password policy: at least MinPasswordLength characters
// and no whitespace anywhere.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	for _, r := range password {
		if unicode.IsSpace(r) {
			return ErrPasswordWhitespace
		}
	}
	return nil
}

// Present reports whether every value is non-empty.
func Present(values ...string) bool {
	for _, v := range values {
		if v == "" {
			return false
		}
	}
	return true
}
