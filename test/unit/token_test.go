// Package unit contains unit tests for individual components of the RelayRoom server.
//
// These tests focus on testing specific functions and methods in isolation,
// using mocks and stubs where necessary to avoid dependencies on external systems.
// Unit tests ensure that each component behaves correctly under various conditions.
package unit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/relayroom/relayroom/internal/server"
)

const testSecret = "unit-test-signing-secret"

func configureTokenSecret(t *testing.T) {
	t.Helper()
	cfg := server.NewConfig()
	cfg.TokenSecret = testSecret
	server.SetConfig(cfg)
	t.Cleanup(func() {
		server.SetConfig(nil)
	})
}

// craftToken builds a signed credential with arbitrary claims, mirroring the
// server's wire format, so expiry and tampering can be tested directly.
func craftToken(t *testing.T, secret, name string, issuedAt, expiry time.Time) string {
	t.Helper()

	encode := func(v any) string {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("Failed to marshal token segment: %v", err)
		}
		return base64.RawURLEncoding.EncodeToString(data)
	}

	header := encode(map[string]string{"alg": "HS256", "typ": "RRT"})
	claims := encode(map[string]any{"sub": name, "iat": issuedAt.Unix(), "exp": expiry.Unix()})

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(header + "." + claims))
	signature := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	return header + "." + claims + "." + signature
}

// TestIssueAndVerifyRoundTrip tests that a freshly issued credential verifies
// back to the same identity.
func TestIssueAndVerifyRoundTrip(t *testing.T) {
	configureTokenSecret(t)

	token, expiry, err := server.IssueToken("alice")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	if !expiry.After(time.Now()) {
		t.Error("Issued token already expired")
	}

	identity, err := server.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if identity != "alice" {
		t.Errorf("Identity = %q, want %q", identity, "alice")
	}
}

// TestIssueTokenTrimsName tests that surrounding whitespace is stripped from
// the display name before it becomes the identity.
func TestIssueTokenTrimsName(t *testing.T) {
	configureTokenSecret(t)

	token, _, err := server.IssueToken("  bob  ")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	identity, err := server.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if identity != "bob" {
		t.Errorf("Identity = %q, want %q", identity, "bob")
	}
}

// TestIssueTokenRejectsInvalidNames tests the display name constraints:
// non-empty after trimming and at most 20 characters.
func TestIssueTokenRejectsInvalidNames(t *testing.T) {
	configureTokenSecret(t)

	for _, name := range []string{"", "   ", strings.Repeat("x", 21)} {
		if _, _, err := server.IssueToken(name); !errors.Is(err, server.ErrInvalidName) {
			t.Errorf("IssueToken(%q) error = %v, want ErrInvalidName", name, err)
		}
	}

	if _, _, err := server.IssueToken(strings.Repeat("x", 20)); err != nil {
		t.Errorf("IssueToken with a 20-character name failed: %v", err)
	}
}

// TestVerifyTokenMissing tests that an absent credential fails with the
// dedicated missing-credential error.
func TestVerifyTokenMissing(t *testing.T) {
	configureTokenSecret(t)

	if _, err := server.VerifyToken(""); !errors.Is(err, server.ErrMissingToken) {
		t.Errorf("VerifyToken(\"\") error = %v, want ErrMissingToken", err)
	}
}

// TestVerifyTokenMalformed tests that structurally broken credentials fail as
// invalid.
func TestVerifyTokenMalformed(t *testing.T) {
	configureTokenSecret(t)

	for _, token := range []string{
		"not-a-token",
		"only.two",
		"a.b.c.d",
		"!!!.???.///",
	} {
		if _, err := server.VerifyToken(token); !errors.Is(err, server.ErrInvalidToken) {
			t.Errorf("VerifyToken(%q) error = %v, want ErrInvalidToken", token, err)
		}
	}
}

// TestVerifyTokenTamperedSignature tests that modifying the claims without
// re-signing invalidates the credential.
func TestVerifyTokenTamperedSignature(t *testing.T) {
	configureTokenSecret(t)

	token, _, err := server.IssueToken("mallory")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	parts := strings.Split(token, ".")
	forged := craftToken(t, "some-other-secret", "mallory", time.Now(), time.Now().Add(time.Hour))
	forgedParts := strings.Split(forged, ".")

	tampered := parts[0] + "." + forgedParts[1] + "." + parts[2]
	if _, err := server.VerifyToken(tampered); !errors.Is(err, server.ErrInvalidToken) {
		t.Errorf("Tampered token error = %v, want ErrInvalidToken", err)
	}

	if _, err := server.VerifyToken(forged); !errors.Is(err, server.ErrInvalidToken) {
		t.Errorf("Token signed with the wrong secret error = %v, want ErrInvalidToken", err)
	}
}

// TestVerifyTokenExpired tests that a well-formed, correctly signed
// credential past its expiry fails with the dedicated expiry error.
func TestVerifyTokenExpired(t *testing.T) {
	configureTokenSecret(t)

	expired := craftToken(t, testSecret,
		"old-timer",
		time.Now().Add(-48*time.Hour),
		time.Now().Add(-24*time.Hour),
	)

	if _, err := server.VerifyToken(expired); !errors.Is(err, server.ErrTokenExpired) {
		t.Errorf("Expired token error = %v, want ErrTokenExpired", err)
	}
}
