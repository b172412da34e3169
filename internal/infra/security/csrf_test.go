package security

import (
	"strings"
	"testing"
)

func TestCSRFSigner_DeriveIsDeterministic(t *testing.T) {
	signer, err := NewCSRFSigner(strings.Repeat("s", 32))
	if err != nil {
		t.Fatalf("NewCSRFSigner returned error: %v", err)
	}

	first := signer.Derive("session-token")
	second := signer.Derive("session-token")
	if first != second {
		t.Fatalf("expected deterministic derivation, got %s and %s", first, second)
	}
	if strings.Contains(first, "session-token") {
		t.Fatalf("derived token leaks the session token")
	}
}

func TestCSRFSigner_Validate(t *testing.T) {
	signer, err := NewCSRFSigner(strings.Repeat("s", 32))
	if err != nil {
		t.Fatalf("NewCSRFSigner returned error: %v", err)
	}

	token := signer.Derive("session-token")

	if !signer.Validate(token, "session-token") {
		t.Fatalf("expected matching token to validate")
	}
	if signer.Validate(token, "other-session") {
		t.Fatalf("expected token bound to another session to fail")
	}
	if signer.Validate("", "session-token") {
		t.Fatalf("expected empty csrf token to fail")
	}
	if signer.Validate(token, "") {
		t.Fatalf("expected empty session token to fail")
	}
}

func TestCSRFSigner_DistinctSecretsDistinctTokens(t *testing.T) {
	a, err := NewCSRFSigner(strings.Repeat("a", 32))
	if err != nil {
		t.Fatalf("NewCSRFSigner returned error: %v", err)
	}
	b, err := NewCSRFSigner(strings.Repeat("b", 32))
	if err != nil {
		t.Fatalf("NewCSRFSigner returned error: %v", err)
	}

	if a.Derive("session-token") == b.Derive("session-token") {
		t.Fatalf("expected different secrets to produce different tokens")
	}
}

func TestNewCSRFSigner_RejectsShortSecret(t *testing.T) {
	if _, err := NewCSRFSigner("short"); err == nil {
		t.Fatalf("expected error for short secret")
	}
}

func TestSessionIDFromToken(t *testing.T) {
	token, err := GenerateSessionToken()
	if err != nil {
		t.Fatalf("GenerateSessionToken returned error: %v", err)
	}

	id := SessionIDFromToken(token)
	if len(id) != 64 {
		t.Fatalf("expected 64 hex characters, got %d", len(id))
	}
	if id != SessionIDFromToken(token) {
		t.Fatalf("expected stable derivation")
	}

	other, err := GenerateSessionToken()
	if err != nil {
		t.Fatalf("GenerateSessionToken returned error: %v", err)
	}
	if SessionIDFromToken(other) == id {
		t.Fatalf("expected distinct tokens to derive distinct ids")
	}
}
