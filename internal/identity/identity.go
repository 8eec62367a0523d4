// Package identity handles admin credential verification.
package identity

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidPassword = errors.New("invalid password")
	ErrNotConfigured   = errors.New("admin credentials not configured")
)

// AdminAuth verifies the configured administrator credential.
// The configured password may be a bcrypt hash or a plain secret; hashes
// are recognized by their prefix.
type AdminAuth struct {
	username string
	password string
	cost     int
}

// NewAdminAuth builds an AdminAuth over the configured credential pair.
func NewAdminAuth(username, password string) *AdminAuth {
	return &AdminAuth{
		username: username,
		password: password,
		cost:     bcrypt.DefaultCost,
	}
}

// Configured reports whether admin credentials are set at all.
func (a *AdminAuth) Configured() bool {
	return a.username != "" && a.password != ""
}

// HashPassword creates a bcrypt hash suitable for the config file.
func (a *AdminAuth) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify checks a presented credential pair against the configuration.
func (a *AdminAuth) Verify(username, password string) error {
	if !a.Configured() {
		return ErrNotConfigured
	}

	userOK := subtle.ConstantTimeCompare([]byte(a.username), []byte(username)) == 1

	var passOK bool
	if isBcryptHash(a.password) {
		passOK = bcrypt.CompareHashAndPassword([]byte(a.password), []byte(password)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(a.password), []byte(password)) == 1
	}

	if !userOK || !passOK {
		return ErrInvalidPassword
	}
	return nil
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
