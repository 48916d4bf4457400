package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()

	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func getJSON(t *testing.T, url string) map[string]any {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return decoded
}

func TestHealthHandler(t *testing.T) {
	relay := newTestRelay(t, nil)

	require.Equal(t, map[string]any{"message": "directchat relay is running"}, getJSON(t, relay.srv.URL+"/"))
}

func TestPresenceHandler(t *testing.T) {
	relay := newTestRelay(t, nil)

	require.Equal(t, map[string]any{"username": "alice", "online": false}, getJSON(t, relay.srv.URL+"/online/alice"))

	alice := relay.connect(t, "alice")
	require.Equal(t, map[string]any{"username": "alice", "online": true}, getJSON(t, relay.srv.URL+"/online/alice"))

	require.NoError(t, alice.Close())
	require.Eventually(t, func() bool { return !relay.hub.Registry().IsOnline("alice") },
		2*time.Second, 5*time.Millisecond)
	require.Equal(t, map[string]any{"username": "alice", "online": false}, getJSON(t, relay.srv.URL+"/online/alice"))
}

func TestRegisterLoginAndConnect(t *testing.T) {
	relay := newTestRelay(t, nil)
	creds := `{"username":"dana","password":"password1"}`

	resp, body := postJSON(t, relay.srv.URL+"/register", creds)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "User registered successfully!", body["message"])

	resp, body = postJSON(t, relay.srv.URL+"/register", creds)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "Username already exists", body["detail"])

	resp, body = postJSON(t, relay.srv.URL+"/login", `{"username":"dana","password":"wrong-password"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "Invalid username or password", body["detail"])

	resp, body = postJSON(t, relay.srv.URL+"/login", creds)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "bearer", body["token_type"])

	token, ok := body["access_token"].(string)
	require.True(t, ok)

	conn, err := relay.dial("dana", token, testOrigin)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	require.Eventually(t, func() bool { return relay.hub.Registry().IsOnline("dana") },
		2*time.Second, 5*time.Millisecond)
}

func TestRegisterValidation(t *testing.T) {
	relay := newTestRelay(t, nil)

	resp, _ := postJSON(t, relay.srv.URL+"/register", `{"username":"dana","password":"short"}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, body := postJSON(t, relay.srv.URL+"/register", `not json`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "Invalid request body", body["detail"])
}

func TestWebSocketEndpointRequiresUpgrade(t *testing.T) {
	relay := newTestRelay(t, nil)

	t.Run("POST is not allowed", func(t *testing.T) {
		resp, err := http.Post(relay.srv.URL+"/ws/alice", "text/plain", strings.NewReader("test"))
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("GET without upgrade headers", func(t *testing.T) {
		resp, err := http.Get(relay.srv.URL + "/ws/alice")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestCORS(t *testing.T) {
	relay := newTestRelay(t, nil)
	handler := relay.srv.Config.Handler

	t.Run("preflight from allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/login", http.NoBody)
		req.Header.Set("Origin", testOrigin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "content-type")
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		require.Equal(t, http.StatusNoContent, rr.Code)
		require.Equal(t, testOrigin, rr.Header().Get("Access-Control-Allow-Origin"))
		require.Equal(t, "content-type", rr.Header().Get("Access-Control-Allow-Headers"))
	})

	t.Run("preflight from disallowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/login", http.NoBody)
		req.Header.Set("Origin", "https://evil.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		require.Equal(t, http.StatusForbidden, rr.Code)
		require.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("simple request from allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/online/alice", http.NoBody)
		req.Header.Set("Origin", testOrigin)
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		require.Equal(t, testOrigin, rr.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestTestPage(t *testing.T) {
	relay := newTestRelay(t, nil)

	resp, err := http.Get(relay.srv.URL + "/test")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/html", resp.Header.Get("Content-Type"))
}
