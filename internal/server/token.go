// Package server issues and verifies the signed, time-limited credentials
// that gate access to the relay. Tokens are three base64url segments
// (header.claims.signature) signed with HMAC-SHA256 over the shared secret.
package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const maxDisplayNameLength = 20

var (
	// ErrMissingToken indicates no credential was supplied at all.
	ErrMissingToken = errors.New("token: no credential provided")
	// ErrInvalidToken indicates a credential that is present but malformed
	// or carries a bad signature.
	ErrInvalidToken = errors.New("token: invalid credential")
	// ErrTokenExpired indicates a well-formed credential past its expiry.
	ErrTokenExpired = errors.New("token: credential expired")
	// ErrInvalidName indicates a display name that cannot be issued a credential.
	ErrInvalidName = errors.New("token: invalid display name")
)

type tokenHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

type tokenClaims struct {
	Sub string `json:"sub"`
	Iat int64  `json:"iat"`
	Exp int64  `json:"exp"`
}

// IssueToken creates a signed credential for the given display name with the
// configured TTL. The name must be non-empty after trimming and at most 20
// characters.
func IssueToken(name string) (string, time.Time, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || utf8.RuneCountInString(trimmed) > maxDisplayNameLength {
		return "", time.Time{}, ErrInvalidName
	}

	cfg := currentConfig()
	now := time.Now()
	expiry := now.Add(cfg.TokenTTL)

	headerJSON, err := json.Marshal(tokenHeader{Alg: "HS256", Typ: "RRT"})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token: encode header: %w", err)
	}
	claimsJSON, err := json.Marshal(tokenClaims{
		Sub: trimmed,
		Iat: now.Unix(),
		Exp: expiry.Unix(),
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token: encode claims: %w", err)
	}

	signingInput := base64URLEncode(headerJSON) + "." + base64URLEncode(claimsJSON)
	signature := signHS256(signingInput, cfg.TokenSecret)

	return signingInput + "." + base64URLEncode(signature), expiry, nil
}

// VerifyToken validates a credential and returns the stable identity it
// carries. It has no side effects.
func VerifyToken(token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", ErrInvalidToken
	}

	headerJSON, err := base64URLDecode(parts[0])
	if err != nil {
		return "", ErrInvalidToken
	}
	var header tokenHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return "", ErrInvalidToken
	}
	if header.Alg != "HS256" {
		return "", ErrInvalidToken
	}

	cfg := currentConfig()
	signature, err := base64URLDecode(parts[2])
	if err != nil {
		return "", ErrInvalidToken
	}
	expected := signHS256(parts[0]+"."+parts[1], cfg.TokenSecret)
	if !hmac.Equal(signature, expected) {
		return "", ErrInvalidToken
	}

	claimsJSON, err := base64URLDecode(parts[1])
	if err != nil {
		return "", ErrInvalidToken
	}
	var claims tokenClaims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return "", ErrInvalidToken
	}
	if claims.Sub == "" {
		return "", ErrInvalidToken
	}

	if time.Now().Unix() > claims.Exp {
		return "", ErrTokenExpired
	}

	return claims.Sub, nil
}

// credentialFromRequest extracts the bearer credential from the query string
// or the Authorization header. An absent credential returns the empty string;
// VerifyToken turns that into ErrMissingToken.
func credentialFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func signHS256(signingInput, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingInput))
	return mac.Sum(nil)
}

func base64URLEncode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

func base64URLDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}
