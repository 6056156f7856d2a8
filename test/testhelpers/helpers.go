// Package testhelpers provides common utilities and helper functions for testing the RelayRoom server.
//
// This package contains reusable test utilities that are shared across unit and integration tests.
// It provides functions for creating test servers, obtaining credentials, making HTTP requests,
// and asserting response properties to reduce code duplication in test files.
package testhelpers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// CreateTestServer creates a test HTTP server with the given handler.
// It returns a running httptest.Server that should be closed after use.
func CreateTestServer(handler http.Handler) *httptest.Server {
	return httptest.NewServer(handler)
}

// AssertStatusCode checks if the HTTP response has the expected status code.
// It fails the test with a descriptive error message if the status codes don't match.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
// It fails the test with a descriptive error message if the content types don't match.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("Failed to create %s request to %s: %v", method, url, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to execute %s request to %s: %v", method, url, err)
	}

	return resp
}

// ObtainToken requests a credential for the given display name from the
// token endpoint of a running test server and returns the signed token.
func ObtainToken(t *testing.T, baseURL, name string) string {
	t.Helper()

	payload, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		t.Fatalf("Failed to marshal token request: %v", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(baseURL+"/token", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Failed to request token: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Token endpoint returned status %d", resp.StatusCode)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode token response: %v", err)
	}
	if body.Token == "" {
		t.Fatal("Token endpoint returned an empty token")
	}

	return body.Token
}
