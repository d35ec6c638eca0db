// Package auth verifies the shared-secret bearer token guarding all
// non-health endpoints.
//
// Two modes: a plaintext token from config, compared in constant time via
// SHA-256 digests; or an Argon2id hash of the token, so the secret itself
// never sits in the environment. Both take the same time whether the
// presented token is close or nowhere near.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
)

// Verifier checks presented bearer tokens against the configured secret.
type Verifier struct {
	digest  [sha256.Size]byte
	encoded string // non-empty selects Argon2id mode
}

// NewVerifier builds a plaintext-mode verifier. The token must be non-empty;
// an empty shared secret would accept the empty bearer token.
func NewVerifier(token string) (*Verifier, error) {
	if token == "" {
		return nil, fmt.Errorf("auth: api token must not be empty")
	}
	return &Verifier{digest: sha256.Sum256([]byte(token))}, nil
}

// NewHashedVerifier builds a verifier from an Argon2id-encoded token hash,
// as produced by HashToken.
func NewHashedVerifier(encoded string) (*Verifier, error) {
	// Validate the encoding shape up front so a malformed config fails at
	// startup, not on the first request.
	if _, err := VerifyToken("probe", encoded); err != nil {
		return nil, fmt.Errorf("auth: invalid token hash: %w", err)
	}
	return &Verifier{encoded: encoded}, nil
}

// Verify reports whether the presented token matches the configured secret.
// Comparison is constant-time in both modes.
func (v *Verifier) Verify(presented string) bool {
	if v.encoded != "" {
		ok, err := VerifyToken(presented, v.encoded)
		return err == nil && ok
	}
	sum := sha256.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(sum[:], v.digest[:]) == 1
}
