package authcore

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 128
)

var bannedSubstrings = []string{"password", "admin", "user", "login", "qwerty"}

var commonPasswords = map[string]struct{}{
	"123456789": {},
	"12345678":  {},
	"1234567":   {},
	"123456":    {},
}

// CheckPasswordStrength validates candidate against the registration policy.
// Violations wrap ErrWeakPassword with the human-readable reason; this is a
// client-input validation failure, not an authentication failure.
func CheckPasswordStrength(candidate string) error {
	if len(candidate) < minPasswordLength {
		return weak("must be at least %d characters long", minPasswordLength)
	}
	if len(candidate) > maxPasswordLength {
		return weak("must be at most %d characters long", maxPasswordLength)
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range candidate {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			if !unicode.IsLetter(r) && !unicode.IsNumber(r) {
				hasSpecial = true
			}
		}
	}
	if !hasUpper {
		return weak("must contain at least one uppercase letter")
	}
	if !hasLower {
		return weak("must contain at least one lowercase letter")
	}
	if !hasDigit {
		return weak("must contain at least one number")
	}
	if !hasSpecial {
		return weak("must contain at least one special character")
	}

	lowered := strings.ToLower(candidate)
	for _, word := range bannedSubstrings {
		if strings.Contains(lowered, word) {
			return weak("cannot contain common word: %s", word)
		}
	}
	if _, ok := commonPasswords[lowered]; ok {
		return weak("is too common")
	}

	runes := []rune(candidate)
	for i := 0; i+3 < len(runes); i++ {
		if runes[i] == runes[i+1] && runes[i] == runes[i+2] && runes[i] == runes[i+3] {
			return weak("cannot contain more than 3 consecutive identical characters")
		}
	}

	return nil
}

func weak(format string, args ...interface{}) error {
	return fmt.Errorf("%w: password %s", ErrWeakPassword, fmt.Sprintf(format, args...))
}
