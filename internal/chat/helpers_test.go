package chat

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/store"
)

// recordingSink keeps every delivered frame per connection.
type recordingSink struct {
	mu     sync.Mutex
	frames map[ConnID][]Envelope
	closed map[ConnID]bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		frames: make(map[ConnID][]Envelope),
		closed: make(map[ConnID]bool),
	}
}

func (s *recordingSink) Deliver(conn ConnID, frame []byte) bool {
	env, err := Decode(frame)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed[conn] {
		return false
	}
	s.frames[conn] = append(s.frames[conn], env)
	return true
}

func (s *recordingSink) close(conn ConnID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed[conn] = true
}

func (s *recordingSink) all(conn ConnID) []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Envelope(nil), s.frames[conn]...)
}

func (s *recordingSink) events(conn ConnID, event string) []Envelope {
	var out []Envelope
	for _, env := range s.all(conn) {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

// inRoom filters events whose payload names room.
func (s *recordingSink) inRoom(conn ConnID, event, room string) []Envelope {
	var out []Envelope
	for _, env := range s.events(conn, event) {
		var p struct {
			Room string `json:"room"`
		}
		if err := json.Unmarshal(env.Data, &p); err == nil && p.Room == room {
			out = append(out, env)
		}
	}
	return out
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = make(map[ConnID][]Envelope)
}

func payload[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

// countingStore counts saved messages and can fail them on demand. Room
// lookups fail while namesFailures is positive.
type countingStore struct {
	*store.GormStore
	saved         atomic.Int32
	saveErr       error
	namesFailures atomic.Int32
}

func (c *countingStore) ChannelNamesOf(ctx context.Context, userID uint) ([]string, error) {
	if c.namesFailures.Add(-1) >= 0 {
		return nil, fmt.Errorf("%w: timeout", store.ErrUnavailable)
	}
	return c.GormStore.ChannelNamesOf(ctx, userID)
}

func (c *countingStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	if c.saveErr != nil {
		return c.saveErr
	}
	if err := c.GormStore.SaveMessage(ctx, msg); err != nil {
		return err
	}
	c.saved.Add(1)
	return nil
}

// tokenTable resolves "tok-<username>" to the stored user.
type tokenTable struct {
	users store.Store
}

func (tt tokenTable) Resolve(ctx context.Context, token string) (*store.User, error) {
	var username string
	if _, err := fmt.Sscanf(token, "tok-%s", &username); err != nil {
		return nil, fmt.Errorf("bad token %q", token)
	}
	return tt.users.FindUserByUsername(ctx, username)
}

type harness struct {
	t     *testing.T
	svc   *Service
	sink  *recordingSink
	store *countingStore
	next  int
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	gs, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = gs.Close() })

	cs := &countingStore{GormStore: gs}
	sink := newRecordingSink()
	svc, err := NewService(Deps{Store: cs, Tokens: tokenTable{users: gs}, Sink: sink})
	require.NoError(t, err)

	return &harness{t: t, svc: svc, sink: sink, store: cs}
}

func (h *harness) user(username string) *store.User {
	h.t.Helper()
	email := username + "@example.com"
	u := &store.User{Username: username, Email: &email, Color: "#1f3fbf"}
	require.NoError(h.t, h.store.CreateUser(context.Background(), u))
	return u
}

// connect opens a connection and authenticates it as username.
func (h *harness) connect(username string) ConnID {
	h.t.Helper()
	h.next++
	conn := ConnID(fmt.Sprintf("%s-%d", username, h.next))
	h.svc.Connect(conn)
	h.send(conn, EventAuthenticate, "tok-"+username)
	return conn
}

func (h *harness) send(conn ConnID, event string, data any) error {
	h.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(h.t, err)
	frame, err := json.Marshal(Envelope{Event: event, Data: raw})
	require.NoError(h.t, err)
	return h.svc.HandleEvent(context.Background(), conn, frame)
}

func (h *harness) say(conn ConnID, room, text string) error {
	h.t.Helper()
	return h.send(conn, EventNewMessage, NewMessage{Room: room, Message: text})
}

func (h *harness) disconnect(conn ConnID) {
	h.sink.close(conn)
	h.svc.Disconnect(conn)
}

func usernames(ids []Identity) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Username
	}
	return out
}
