// Package integration contains integration tests that exercise the HTTP
// surface of the RelayRoom server with a real listener.
package integration

import (
	"net/http"
	"strings"
	"testing"

	"github.com/relayroom/relayroom/internal/server"
	"github.com/relayroom/relayroom/test/testhelpers"
)

// TestHealthEndpoint verifies the health check route over a real server.
func TestHealthEndpoint(t *testing.T) {
	mux := server.SetupRoutes()
	testServer := testhelpers.CreateTestServer(mux)
	defer testServer.Close()
	configureServerForTest(t, testServer.URL, nil)

	resp := testhelpers.MakeRequest(t, http.MethodGet, testServer.URL+"/")
	defer func() { _ = resp.Body.Close() }()

	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.AssertContentType(t, resp, "text/plain")
}

// TestTestPageEndpoint verifies the built-in test page is served as HTML.
func TestTestPageEndpoint(t *testing.T) {
	mux := server.SetupRoutes()
	testServer := testhelpers.CreateTestServer(mux)
	defer testServer.Close()
	configureServerForTest(t, testServer.URL, nil)

	resp := testhelpers.MakeRequest(t, http.MethodGet, testServer.URL+"/test")
	defer func() { _ = resp.Body.Close() }()

	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.AssertContentType(t, resp, "text/html")
}

// TestTokenEndpointOverHTTP verifies credential issuance through a real
// server, including name validation.
func TestTokenEndpointOverHTTP(t *testing.T) {
	mux := server.SetupRoutes()
	testServer := testhelpers.CreateTestServer(mux)
	defer testServer.Close()
	configureServerForTest(t, testServer.URL, nil)

	token := testhelpers.ObtainToken(t, testServer.URL, "integration")
	identity, err := server.VerifyToken(token)
	if err != nil {
		t.Fatalf("Issued token failed verification: %v", err)
	}
	if identity != "integration" {
		t.Errorf("Identity = %q, want %q", identity, "integration")
	}

	resp, err := http.Post(testServer.URL+"/token", "application/json", strings.NewReader(`{"name":""}`))
	if err != nil {
		t.Fatalf("Token request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	testhelpers.AssertStatusCode(t, resp, http.StatusBadRequest)
}

// TestWebSocketEndpointRejectsPlainGet verifies that a non-upgrade GET to the
// WebSocket endpoint fails the handshake rather than hanging.
func TestWebSocketEndpointRejectsPlainGet(t *testing.T) {
	mux := server.SetupRoutes()
	testServer := testhelpers.CreateTestServer(mux)
	defer testServer.Close()
	configureServerForTest(t, testServer.URL, nil)

	token := testhelpers.ObtainToken(t, testServer.URL, "plain-get")
	resp := testhelpers.MakeRequest(t, http.MethodGet, testServer.URL+"/ws?token="+token)
	defer func() { _ = resp.Body.Close() }()

	testhelpers.AssertStatusCode(t, resp, http.StatusBadRequest)
}