// Package auth implements account registration, login, and token-based
// authentication for the API.
package auth

import (
	"strings"

	"golang.org/x/crypto/bcrypt"

	"tailoredletters/internal/types"
)

// bcryptCost is the bcrypt cost factor used for password hashing.
const bcryptCost = 12

// PasswordHasher abstracts bcrypt operations for testability.
type PasswordHasher interface {
	CompareHashAndPassword(hashedPassword, password string) error
	GenerateFromPassword(password string) (string, error)
}

// bcryptHasher is the production implementation of PasswordHasher.
type bcryptHasher struct{}

func (b *bcryptHasher) CompareHashAndPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

func (b *bcryptHasher) GenerateFromPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CanonicalizeEmail normalizes an email for use as the account key. Every
// path that touches the accounts collection (registration, login, webhook
// correlation, resync) must canonicalize first so the same mailbox never
// splits into two documents.
func CanonicalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// errInvalidCreds is the generic credentials failure. Login returns it for
// both unknown-email and wrong-password so responses never reveal whether an
// email is registered.
func errInvalidCreds() error {
	return types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid email or password", nil)
}
