package core

import (
	"net/mail"
	"strings"
)

const (
	MinPasswordLength = 8
	MinNameLength     = 2
	MaxSubjectLength  = 200
	MaxPerPage        = 100
	DefaultPerPage    = 20
)

// NormalizeEmail lowercases a bare address and rejects anything else,
// display names included
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", NewErrorInvalidArgument("email", "is not a valid address")
	}
	return strings.ToLower(addr.Address), nil
}

// ValidatePassword checks the password policy
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return NewErrorInvalidArgument("password", "must be at least 8 characters long")
	}
	return nil
}

// NormalizeName trims a person name and checks its length
func NormalizeName(field, name string) (string, error) {
	name = strings.TrimSpace(name)
	if len([]rune(name)) < MinNameLength {
		return "", NewErrorInvalidArgument(field, "must be at least 2 characters long")
	}
	return name, nil
}

// NormalizePage clamps pagination parameters into the accepted range
func NormalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}
