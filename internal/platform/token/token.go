// Package token mints and hashes opaque bearer tokens. Tokens are random
// values, never structured: clients cannot parse them and the server only
// stores their hashes.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// byteLen is the raw entropy per token: 256 bits.
const byteLen = 32

// New returns a fresh opaque token as URL-safe base64.
func New() (string, error) {
	buf := make([]byte, byteLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash returns the hex SHA-256 digest of a token. Only hashes are
// persisted so a leaked sessions table cannot be replayed.
func Hash(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:])
}

// Equal compares two token hashes in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
