// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package auth

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/samber/oops"
)

// Field length limits.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 80
	MaxEmailLength    = 120
	MaxFullNameLength = 100
	MaxPhoneLength    = 20
	MinPasswordLength = 8
)

// passwordSpecials are the characters that satisfy the special-character rule.
const passwordSpecials = `!@#$%^&*(),.?":{}|<>`

var (
	usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]*$`)
	phoneRegex    = regexp.MustCompile(`^\+?[0-9 ()\-]*$`)
	tagRegex      = regexp.MustCompile(`<[^>]*>`)
)

// Sanitize strips markup from free-text input and trims surrounding space.
func Sanitize(s string) string {
	return strings.TrimSpace(tagRegex.ReplaceAllString(s, ""))
}

// ValidateUsername checks length and character rules: 3 to 80 characters,
// starting with a letter, then letters, digits, dot, underscore or dash.
func ValidateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	switch {
	case username == "":
		return oops.Code(CodeInvalidUsername).Errorf("Username is required")
	case n < MinUsernameLength:
		return oops.Code(CodeInvalidUsername).
			With("min", MinUsernameLength).
			Errorf("Username must be at least %d characters", MinUsernameLength)
	case n > MaxUsernameLength:
		return oops.Code(CodeInvalidUsername).
			With("max", MaxUsernameLength).
			Errorf("Username must be at most %d characters", MaxUsernameLength)
	case !usernameRegex.MatchString(username):
		return oops.Code(CodeInvalidUsername).
			Errorf("Username must start with a letter and contain only letters, numbers, dots, underscores and dashes")
	}
	return nil
}

// ValidateEmail checks that email is a bare address of acceptable length.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code(CodeInvalidEmail).Errorf("Email is required")
	}
	if len(email) > MaxEmailLength {
		return oops.Code(CodeInvalidEmail).
			With("max", MaxEmailLength).
			Errorf("Email must be at most %d characters", MaxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return oops.Code(CodeInvalidEmail).Errorf("Invalid email format")
	}
	return nil
}

// ValidateFullName checks the display name length.
func ValidateFullName(name string) error {
	n := utf8.RuneCountInString(name)
	if n == 0 {
		return oops.Code(CodeInvalidFullName).Errorf("Full name is required")
	}
	if n > MaxFullNameLength {
		return oops.Code(CodeInvalidFullName).
			With("max", MaxFullNameLength).
			Errorf("Full name must be at most %d characters", MaxFullNameLength)
	}
	return nil
}

// ValidatePhone checks an optional phone number. Empty is allowed.
func ValidatePhone(phone string) error {
	if len(phone) > MaxPhoneLength {
		return oops.Code(CodeInvalidPhone).
			With("max", MaxPhoneLength).
			Errorf("Phone must be at most %d characters", MaxPhoneLength)
	}
	if !phoneRegex.MatchString(phone) {
		return oops.Code(CodeInvalidPhone).Errorf("Phone may contain only digits, spaces, parentheses, dashes and a leading +")
	}
	return nil
}

// ValidatePasswordStrength requires at least MinPasswordLength characters
// with an upper-case letter, a lower-case letter, a digit and a special
// character.
func ValidatePasswordStrength(password string) error {
	if password == "" {
		return oops.Code(CodeWeakPassword).Errorf("Password is required")
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return oops.Code(CodeWeakPassword).
			With("min", MinPasswordLength).
			Errorf("Password must be at least %d characters long", MinPasswordLength)
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		}
	}
	switch {
	case !upper:
		return oops.Code(CodeWeakPassword).Errorf("Password must contain at least one uppercase letter")
	case !lower:
		return oops.Code(CodeWeakPassword).Errorf("Password must contain at least one lowercase letter")
	case !digit:
		return oops.Code(CodeWeakPassword).Errorf("Password must contain at least one number")
	case !special:
		return oops.Code(CodeWeakPassword).Errorf("Password must contain at least one special character")
	}
	return nil
}
