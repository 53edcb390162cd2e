package server

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHealthHandler verifies the health endpoint answers any method.
func TestHealthHandler(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/", http.NoBody)
			rr := httptest.NewRecorder()

			HealthHandler(rr, req)

			if rr.Code != http.StatusOK {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
			}
			if rr.Body.String() != "RoomChat server is running!" {
				t.Errorf("handler returned unexpected body: %q", rr.Body.String())
			}
		})
	}
}

func TestTestPageHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	TestPageHandler(rr, httptest.NewRequest(http.MethodGet, "/test", http.NoBody))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/html", rr.Header().Get("Content-Type"))
	body := rr.Body.String()
	assert.Contains(t, body, "'authenticate'")
	assert.Contains(t, body, "/api/login")
}

// TestWebSocketHandlerMethodValidation rejects everything but GET.
func TestWebSocketHandlerMethodValidation(t *testing.T) {
	h := NewWebSocketHandler(NewHub(), NewOriginPolicy([]string{testOrigin}), ClientOptions{MaxMessageSize: 512})

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(method, "/ws", http.NoBody))
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected 405, got %d", method, rr.Code)
		}
	}

	// A GET without upgrade headers is refused by the upgrader.
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
	req.Header.Set("Origin", testOrigin)
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without upgrade headers, got %d", rr.Code)
	}
}

func TestSetupRoutes(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	tests := []struct {
		name   string
		method string
		path   string
		status int
		body   string
	}{
		{"health", http.MethodGet, "/", http.StatusOK, "RoomChat server is running!"},
		{"test page", http.MethodGet, "/test", http.StatusOK, "RoomChat WebSocket Test"},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK, "roomchat_connected_clients"},
		{"unknown", http.MethodGet, "/nope", http.StatusNotFound, ""},
		{"login needs POST", http.MethodGet, "/api/login", http.StatusMethodNotAllowed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, env.server.URL+tt.path, http.NoBody)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.body != "" {
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				assert.Contains(t, string(body), tt.body)
			}
		})
	}
}

func TestAuthEndpointsAreRateLimited(t *testing.T) {
	routes := SetupRoutes(Routes{
		WebSocket:    http.NotFoundHandler(),
		Auth:         newTestEnv(t, envOptions{}).auth,
		AuthRequests: 2,
		AuthWindow:   time.Minute,
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader([]byte(`{}`)))
		req.RemoteAddr = "192.0.2.1:5555"
		routes.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{http.StatusBadRequest, http.StatusBadRequest, http.StatusTooManyRequests}, codes)
}

func TestRegisterAndLoginThroughRoutes(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	token := env.register("dana")

	claims, err := env.jwt.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "dana", claims.Username)

	resp, err := http.Post(env.server.URL+"/api/login", "application/json",
		strings.NewReader(`{"username":"dana","password":"correct horse battery"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateServer(t *testing.T) {
	srv := CreateServer(":9999", http.NotFoundHandler())
	assert.Equal(t, ":9999", srv.Addr)
	assert.Equal(t, 15*time.Second, srv.ReadTimeout)
	assert.Equal(t, 15*time.Second, srv.WriteTimeout)
	assert.Equal(t, 60*time.Second, srv.IdleTimeout)
	assert.NotZero(t, srv.ReadHeaderTimeout)
}
