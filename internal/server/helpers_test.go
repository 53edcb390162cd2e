package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/config"
	"github.com/Tyrowin/roomchat/internal/store"
)

const (
	testSecret = "0123456789abcdef0123456789abcdef"
	testOrigin = "http://localhost:8080"
)

// testEnv is a complete server on an in-memory database.
type testEnv struct {
	t      *testing.T
	server *httptest.Server
	hub    *Hub
	svc    *chat.Service
	store  *store.GormStore
	jwt    *auth.JWTManager
	auth   *auth.Handlers
	cancel context.CancelFunc
	hubErr chan error
}

type envOptions struct {
	maxMessageSize int64
	rateLimit      config.RateLimitConfig
	origins        []string
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	if opts.maxMessageSize == 0 {
		opts.maxMessageSize = 4096
	}
	if opts.rateLimit.Burst == 0 {
		opts.rateLimit = config.RateLimitConfig{Burst: 100, RefillInterval: time.Second}
	}
	if opts.origins == nil {
		opts.origins = []string{testOrigin}
	}

	gs, err := store.Open(":memory:")
	require.NoError(t, err)

	jwtManager, err := auth.NewJWTManager(testSecret, time.Hour)
	require.NoError(t, err)

	hub := NewHub()
	hub.SetDrainTimeout(2 * time.Second)
	svc, err := chat.NewService(chat.Deps{
		Store:  gs,
		Tokens: auth.NewAuthenticator(jwtManager, nil, gs),
		Sink:   hub,
	})
	require.NoError(t, err)
	hub.SetHandler(svc)

	ctx, cancel := context.WithCancel(context.Background())
	hubErr := make(chan error, 1)
	go func() { hubErr <- hub.RunWithContext(ctx) }()
	require.Eventually(t, func() bool {
		select {
		case <-hub.running:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	authHandlers := auth.NewHandlers(gs, auth.NewPasswordHasherWithCost(4), jwtManager, nil)
	routes := SetupRoutes(Routes{
		WebSocket: NewWebSocketHandler(hub, NewOriginPolicy(opts.origins), ClientOptions{
			MaxMessageSize: opts.maxMessageSize,
			RateLimit:      opts.rateLimit,
		}),
		Auth: authHandlers,
	})

	env := &testEnv{
		t:      t,
		server: httptest.NewServer(routes),
		hub:    hub,
		svc:    svc,
		store:  gs,
		jwt:    jwtManager,
		auth:   authHandlers,
		cancel: cancel,
		hubErr: hubErr,
	}
	t.Cleanup(env.close)
	return env
}

func (e *testEnv) close() {
	e.cancel()
	select {
	case <-e.hubErr:
	case <-time.After(5 * time.Second):
		e.t.Error("hub did not stop")
	}
	e.server.Close()
	_ = e.store.Close()
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
}

// register creates an account through the HTTP API and returns its JWT.
func (e *testEnv) register(username string) string {
	e.t.Helper()
	body, err := json.Marshal(auth.RegisterRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: "correct horse battery",
	})
	require.NoError(e.t, err)

	resp, err := http.Post(e.server.URL+"/api/register", "application/json", bytes.NewReader(body))
	require.NoError(e.t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(e.t, http.StatusCreated, resp.StatusCode)

	var out auth.TokenResponse
	require.NoError(e.t, json.NewDecoder(resp.Body).Decode(&out))
	return out.Token
}

// dial opens a websocket with the allowed origin.
func (e *testEnv) dial() *wsClient {
	e.t.Helper()
	header := http.Header{}
	header.Set("Origin", testOrigin)
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(e.wsURL(), header)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(e.t, err)
	c := &wsClient{t: e.t, conn: conn}
	e.t.Cleanup(func() { _ = conn.Close() })
	return c
}

// login dials and authenticates as a freshly registered user, then waits
// for the lobby snapshot.
func (e *testEnv) login(username string) *wsClient {
	e.t.Helper()
	token := e.register(username)
	c := e.dial()
	c.emit(chat.EventAuthenticate, token)
	c.expect(chat.EventUserAuthorized)
	c.expect(chat.EventYouJoinedRoom)
	return c
}

// wsClient reads server frames, splitting batched messages on newlines.
type wsClient struct {
	t       *testing.T
	conn    *websocket.Conn
	pending []chat.Envelope
}

func (c *wsClient) emit(event string, data any) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(c.t, err)
	frame, err := json.Marshal(chat.Envelope{Event: event, Data: raw})
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, frame))
}

func (c *wsClient) next(timeout time.Duration) (chat.Envelope, error) {
	if len(c.pending) == 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return chat.Envelope{}, err
		}
		for _, line := range bytes.Split(message, newline) {
			env, err := chat.Decode(line)
			if err != nil {
				return chat.Envelope{}, err
			}
			c.pending = append(c.pending, env)
		}
	}
	env := c.pending[0]
	c.pending = c.pending[1:]
	return env, nil
}

// expect skips frames until one named event arrives.
func (c *wsClient) expect(event string) chat.Envelope {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		env, err := c.next(time.Until(deadline))
		require.NoError(c.t, err, "waiting for %q", event)
		if env.Event == event {
			return env
		}
	}
	c.t.Fatalf("no %q event before deadline", event)
	return chat.Envelope{}
}

func decodePayload[T any](t *testing.T, env chat.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}
