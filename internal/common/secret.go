package common

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// NewSecretToken generates a URL-safe random token from size random bytes.
// It is used for password-reset secrets that are handed to the user exactly
// once and stored only as a hash.
func NewSecretToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashSecretToken returns the hex-encoded SHA-256 digest of a secret token.
// Only the digest is ever persisted; lookups go by digest as well.
func HashSecretToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// MakeRandHexString generates a random hexadecimal string of 2*size
// characters from size random bytes.
func MakeRandHexString(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
