package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const tokenBodyLength = 48

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// GenerateTokenSecret produces an opaque API token secret of the form
// "<prefix>_<48 base62 chars>" from crypto/rand.
func GenerateTokenSecret(prefix string) (string, error) {
	buf := make([]byte, tokenBodyLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	body := make([]byte, tokenBodyLength)
	for i, b := range buf {
		body[i] = base62Alphabet[int(b)%len(base62Alphabet)]
	}
	return prefix + "_" + string(body), nil
}

// HashToken returns the hex-encoded SHA-256 digest of a raw token secret.
// Only the digest is ever stored.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEqual compares two digests without leaking timing
// information about the stored value.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
