// internal/server/server_test.go
package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	return New(ServerConfig{})
}

func doRequest(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv := setupTestServer(t)
	w := doRequest(srv, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatsEndpoint(t *testing.T) {
	srv := setupTestServer(t)
	w := doRequest(srv, "GET", "/sync/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "hub")
}

func TestNotifyEdit(t *testing.T) {
	srv := setupTestServer(t)
	w := doRequest(srv, "POST", "/sync/v1/notify/edit",
		`{"conversation":{"kind":"channel","id":"general"},"message_id":"m1","content":"fixed"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestNotifyEditRejectsMissingMessageID(t *testing.T) {
	srv := setupTestServer(t)
	w := doRequest(srv, "POST", "/sync/v1/notify/edit", `{"content":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotifyDeleteRejectsBadJSON(t *testing.T) {
	srv := setupTestServer(t)
	w := doRequest(srv, "POST", "/sync/v1/notify/delete", `{broken`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotifyFeed(t *testing.T) {
	srv := setupTestServer(t)
	w := doRequest(srv, "POST", "/sync/v1/notify/feed",
		`{"event":"new_kudos","item":{"id":"f1","message":"nice"}}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestWebSocketEndpointRequiresPrincipal(t *testing.T) {
	srv := setupTestServer(t)
	w := doRequest(srv, "GET", "/sync/v1/ws", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
