package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// CSRFSigner derives per-session CSRF tokens. The token is a deterministic
// function of the session token, so validation recomputes it without extra
// storage, while the keyed hash keeps the session token unrecoverable.
type CSRFSigner struct {
	secret []byte
}

// NewCSRFSigner constructs a signer from the server-side secret.
func NewCSRFSigner(secret string) (*CSRFSigner, error) {
	trimmed := strings.TrimSpace(secret)
	if len(trimmed) < 32 {
		return nil, fmt.Errorf("csrf secret must be at least 32 characters")
	}
	return &CSRFSigner{secret: []byte(trimmed)}, nil
}

// Derive returns the CSRF token bound to the supplied session token.
func (s *CSRFSigner) Derive(sessionToken string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(sessionToken))
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate reports whether the CSRF token matches the session token. Comparison
// is constant-time.
func (s *CSRFSigner) Validate(csrfToken, sessionToken string) bool {
	if csrfToken == "" || sessionToken == "" {
		return false
	}
	expected := s.Derive(sessionToken)
	return hmac.Equal([]byte(expected), []byte(csrfToken))
}
