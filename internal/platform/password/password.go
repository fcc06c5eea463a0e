// Package password derives and verifies credential verifiers with
// argon2id and enforces the portal password policy. The plaintext never
// leaves this package boundary in either direction.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/argon2"

	"github.com/careportal/api/internal/platform/apperr"
)

const (
	memory      = 64 * 1024
	iterations  = 2
	parallelism = 1
	keyLength   = 32
	saltLength  = 16
)

// symbols is the fixed punctuation set accepted by the policy.
const symbols = "!@#$%^&*()-_=+[]{};:'\",.<>/?\\|`~"

// Policy holds the configurable password requirements.
type Policy struct {
	MinLength     int
	RequireUpper  bool
	RequireSymbol bool
}

// DefaultPolicy matches the documented configuration defaults.
func DefaultPolicy() Policy {
	return Policy{MinLength: 8, RequireUpper: true, RequireSymbol: true}
}

// Validate checks a candidate password against the policy. Failures are
// Validation/weak_password errors with a human-readable reason.
func (p Policy) Validate(password string) error {
	if len(password) < p.MinLength {
		return apperr.Sub(apperr.KindValidation, apperr.SubWeakPassword,
			"password must be at least %d characters", p.MinLength)
	}
	if p.RequireUpper {
		hasUpper := false
		for _, r := range password {
			if unicode.IsUpper(r) {
				hasUpper = true
				break
			}
		}
		if !hasUpper {
			return apperr.Sub(apperr.KindValidation, apperr.SubWeakPassword,
				"password must contain an upper-case letter")
		}
	}
	if p.RequireSymbol && !strings.ContainsAny(password, symbols) {
		return apperr.Sub(apperr.KindValidation, apperr.SubWeakPassword,
			"password must contain a punctuation character")
	}
	return nil
}

// DummyHash is a throwaway verifier. Login paths burn a comparison
// against it when the account does not exist, so response timing does
// not reveal which addresses are registered.
var DummyHash = func() string {
	h, err := Hash("decoy-credential")
	if err != nil {
		panic(err)
	}
	return h
}()

// Hash derives an argon2id verifier in the standard encoded form.
func Hash(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, keyLength)

	return fmt.Sprintf(
		"$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		memory,
		iterations,
		parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// Verify re-derives the key from the candidate password and compares it
// to the stored verifier in constant time.
func Verify(encoded, password string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, fmt.Errorf("malformed verifier")
	}

	var mem uint32
	var iters uint32
	var par uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iters, &par); err != nil {
		return false, fmt.Errorf("parse verifier params: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}

	got := argon2.IDKey([]byte(password), salt, iters, mem, par, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
