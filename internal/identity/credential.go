// Package identity provides password hashing for the web-tier account
// store: register/login never see or store plaintext.
package identity

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost balances hashing latency against brute-force resistance
// on the register and login endpoints.
const DefaultBcryptCost = 10

var ErrPasswordTooShort = errors.New("password must be at least 8 characters")
var ErrPasswordTooLong = errors.New("password must be at most 72 characters")
var ErrPasswordMismatch = errors.New("password and confirmation do not match")
var ErrInvalidCredentials = errors.New("invalid credentials")

const (
	MinPasswordLength = 8
	MaxPasswordLength = 72 // bcrypt silently truncates beyond this
)

// HashPassword validates and bcrypt-hashes password.
func HashPassword(password string) (string, error) {
	if err := ValidatePassword(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), DefaultBcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches hash.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidatePassword enforces bcrypt's length bounds.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}
