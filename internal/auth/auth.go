// Package auth issues and checks the bearer tokens that protect the ingest
// endpoint. Only bcrypt hashes of tokens are ever configured.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashToken hashes the given token using bcrypt with the default cost.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash token: %w", err)
	}
	return string(hash), nil
}

// CheckToken compares a bcrypt hash with a plaintext token.
func CheckToken(hash, token string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token))
}

// GenerateToken generates a cryptographically secure random 32-byte hex-encoded token.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Verifier checks presented tokens against one configured hash. A Verifier
// with an empty hash accepts every request.
type Verifier struct {
	hash string
}

func NewVerifier(hash string) *Verifier {
	return &Verifier{hash: strings.TrimSpace(hash)}
}

func (v *Verifier) Enabled() bool {
	return v != nil && v.hash != ""
}

func (v *Verifier) Verify(token string) bool {
	if !v.Enabled() {
		return true
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}
	return CheckToken(v.hash, token) == nil
}
