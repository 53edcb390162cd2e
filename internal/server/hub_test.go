package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/config"
)

// recordingHandler notes connection lifecycle calls.
type recordingHandler struct {
	mu           sync.Mutex
	connected    []chat.ConnID
	disconnected []chat.ConnID
}

func (h *recordingHandler) Connect(conn chat.ConnID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = append(h.connected, conn)
}

func (h *recordingHandler) HandleEvent(context.Context, chat.ConnID, []byte) error {
	return nil
}

func (h *recordingHandler) Disconnect(conn chat.ConnID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected = append(h.disconnected, conn)
}

// TestNewHub verifies that a new hub starts empty and refuses clients until it runs.
func TestNewHub(t *testing.T) {
	hub := NewHub()
	if hub == nil {
		t.Fatal("NewHub() returned nil")
	}
	if hub.Len() != 0 {
		t.Errorf("expected no clients, got %d", hub.Len())
	}

	client := NewClient(nil, hub, "127.0.0.1:12345", ClientOptions{})
	if err := hub.Register(context.Background(), client); !errors.Is(err, ErrHubStopped) {
		t.Errorf("expected ErrHubStopped before Run, got %v", err)
	}
}

// TestHubRequiresHandler ensures the loop refuses to start without a handler.
func TestHubRequiresHandler(t *testing.T) {
	hub := NewHub()
	if err := hub.RunWithContext(context.Background()); err == nil {
		t.Fatal("expected an error without a handler")
	}
}

// TestHubRunsOnce checks that the hub stops with the context and cannot be restarted.
func TestHubRunsOnce(t *testing.T) {
	hub := NewHub()
	hub.SetHandler(&recordingHandler{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.RunWithContext(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}

	if err := hub.RunWithContext(context.Background()); !errors.Is(err, ErrHubStopped) {
		t.Errorf("expected ErrHubStopped on second run, got %v", err)
	}

	client := NewClient(nil, hub, "127.0.0.1:12345", ClientOptions{})
	if err := hub.Register(context.Background(), client); !errors.Is(err, ErrHubStopped) {
		t.Errorf("expected ErrHubStopped after stop, got %v", err)
	}
}

// TestHubDeliver covers delivery to unknown, registered and released clients.
func TestHubDeliver(t *testing.T) {
	hub := NewHub()
	handler := &recordingHandler{}
	hub.SetHandler(handler)

	if hub.Deliver("nobody", []byte("x")) {
		t.Error("delivery to an unknown connection should fail")
	}

	client := NewClient(nil, hub, "127.0.0.1:1", ClientOptions{})
	hub.mutex.Lock()
	hub.clients[client.id] = client
	hub.mutex.Unlock()

	if !hub.Deliver(client.id, []byte("hello")) {
		t.Fatal("delivery to a registered client failed")
	}
	select {
	case got := <-client.GetSendChan():
		if string(got) != "hello" {
			t.Errorf("unexpected frame %q", got)
		}
	default:
		t.Fatal("frame was not queued")
	}

	hub.remove(client)
	if hub.Deliver(client.id, []byte("late")) {
		t.Error("delivery after release should fail")
	}
	if len(handler.disconnected) != 1 || handler.disconnected[0] != client.id {
		t.Errorf("expected one disconnect for %s, got %v", client.id, handler.disconnected)
	}

	// A second release is a no-op.
	hub.remove(client)
	if len(handler.disconnected) != 1 {
		t.Errorf("expected a single disconnect, got %d", len(handler.disconnected))
	}
}

// TestHubDeliverFullBuffer drops frames once the client's queue is full.
func TestHubDeliverFullBuffer(t *testing.T) {
	hub := NewHub()
	hub.SetHandler(&recordingHandler{})

	client := NewClient(nil, hub, "127.0.0.1:1", ClientOptions{})
	hub.mutex.Lock()
	hub.clients[client.id] = client
	hub.mutex.Unlock()

	for i := 0; i < sendBuffer; i++ {
		if !hub.Deliver(client.id, []byte("x")) {
			t.Fatalf("delivery %d failed before the buffer was full", i)
		}
	}
	if hub.Deliver(client.id, []byte("overflow")) {
		t.Error("delivery to a full buffer should fail")
	}
}

// TestNewClient verifies ids are unique and the send queue is ready.
func TestNewClient(t *testing.T) {
	hub := NewHub()
	opts := ClientOptions{
		MaxMessageSize: 512,
		RateLimit:      config.RateLimitConfig{Burst: 2, RefillInterval: time.Hour},
	}
	a := NewClient(nil, hub, "127.0.0.1:1", opts)
	b := NewClient(nil, hub, "127.0.0.1:2", opts)

	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("expected distinct ids, got %q and %q", a.ID(), b.ID())
	}
	if a.GetSendChan() == nil {
		t.Error("client send channel is nil")
	}

	if !a.checkRateLimit() || !a.checkRateLimit() {
		t.Error("burst should be allowed")
	}
	if a.checkRateLimit() {
		t.Error("third frame should be rate limited")
	}
}

func TestNewRateLimiterDefaults(t *testing.T) {
	l := newRateLimiter(0, 0)
	if l.Burst() != 1 {
		t.Errorf("expected burst 1, got %d", l.Burst())
	}
	if float64(l.Limit()) != 1 {
		t.Errorf("expected 1 token per second, got %v", l.Limit())
	}

	l = newRateLimiter(5, 2*time.Second)
	if float64(l.Limit()) != 2.5 {
		t.Errorf("expected 2.5 tokens per second, got %v", l.Limit())
	}
}
