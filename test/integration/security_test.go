// Package integration contains security-focused integration tests.
//
// These tests verify that the security constraints are properly enforced,
// including origin validation on the WebSocket upgrade even when the
// credential itself is valid.
package integration

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/relayroom/relayroom/internal/server"
	"github.com/relayroom/relayroom/test/testhelpers"
)

func dialExpectingStatus(t *testing.T, wsURL string, header http.Header, wantStatus int) {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		_ = conn.Close()
		t.Fatal("Expected connection to fail")
	}
	if resp == nil {
		t.Fatalf("Expected an HTTP response, got none (dial error: %v)", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != wantStatus {
		t.Errorf("Expected status %d, got %d", wantStatus, resp.StatusCode)
	}
}

// TestOriginValidation tests that a valid credential does not bypass the
// origin check on the upgrade.
func TestOriginValidation(t *testing.T) {
	startHub()

	mux := server.SetupRoutes()
	testServer := httptest.NewServer(mux)
	defer testServer.Close()
	configureServerForTest(t, testServer.URL, nil)
	waitForIdle(t)

	wsURL := buildWebSocketURL(t, testServer.URL)
	token := testhelpers.ObtainToken(t, testServer.URL, "origin-probe")
	authedURL := wsURL + "?token=" + token

	t.Run("Missing Origin header", func(t *testing.T) {
		dialExpectingStatus(t, authedURL, http.Header{}, http.StatusForbidden)
	})

	t.Run("Disallowed origin", func(t *testing.T) {
		dialExpectingStatus(t, authedURL, newOriginHeader("http://evil.example.com"), http.StatusForbidden)
	})

	t.Run("Allowed origin connects", func(t *testing.T) {
		conn := dialWithToken(t, wsURL, testServer.URL, token)
		reader := newEventReader(conn)
		reader.expectType(t, server.EventAccepted, defaultEventTimeout)
	})

	t.Run("Wildcard allows any origin", func(t *testing.T) {
		configureServerForTest(t, testServer.URL, func(cfg *server.Config) {
			cfg.AllowedOrigins = []string{"*"}
		})
		conn := dialWithToken(t, wsURL, "http://anywhere.example.com", token)
		reader := newEventReader(conn)
		reader.expectType(t, server.EventAccepted, defaultEventTimeout)
	})
}
