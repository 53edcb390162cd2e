package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/metrics"
)

// ErrHubStopped is returned when a client is offered to a hub that is not running.
var ErrHubStopped = errors.New("server: hub is not running")

// EventHandler receives the lifecycle and inbound frames of every connection.
// *chat.Service satisfies it.
type EventHandler interface {
	Connect(conn chat.ConnID)
	HandleEvent(ctx context.Context, conn chat.ConnID, frame []byte) error
	Disconnect(conn chat.ConnID)
}

// Hub owns the live websocket clients. It starts their pumps on registration,
// reports every connection to the EventHandler and delivers outbound frames
// through its non-blocking Deliver method, which makes it the chat.Sink of the
// service it drives.
type Hub struct {
	clients    map[chat.ConnID]*Client
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	handler    EventHandler
	ctx        context.Context
	running    chan struct{}
	done       chan struct{}
	startOnce  sync.Once
	drainLimit time.Duration
}

// NewHub creates a hub. Call SetHandler before RunWithContext.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[chat.ConnID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        context.Background(),
		running:    make(chan struct{}),
		done:       make(chan struct{}),
		drainLimit: 10 * time.Second,
	}
}

// SetHandler installs the handler that receives connection events. The
// service needs the hub as its sink, so the two are joined after construction.
func (h *Hub) SetHandler(handler EventHandler) {
	h.handler = handler
}

// SetDrainTimeout bounds how long shutdown waits for client pumps to stop.
func (h *Hub) SetDrainTimeout(d time.Duration) {
	if d > 0 {
		h.drainLimit = d
	}
}

// Deliver queues frame for conn without blocking. It reports false when conn
// is not registered or its buffer is full; a full buffer also drops the
// client, whose disconnect is then reported through the handler.
func (h *Hub) Deliver(conn chat.ConnID, frame []byte) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	client, exists := h.clients[conn]
	if !exists || client.closed {
		return false
	}

	select {
	case client.send <- frame:
		return true
	default:
		logging.Warn().Str("conn", string(conn)).Str("addr", client.addr).Msg("send buffer full, dropping client")
		go client.close()
		return false
	}
}

// Len returns the number of registered clients.
func (h *Hub) Len() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Register hands a freshly upgraded client to the hub, which starts its pumps.
func (h *Hub) Register(ctx context.Context, client *Client) error {
	select {
	case <-h.running:
	default:
		return ErrHubStopped
	}

	select {
	case h.register <- client:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release is called by a client's read pump when the connection ends.
func (h *Hub) release(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// RunWithContext runs the hub loop until ctx is cancelled, then closes every
// client connection, waits for the pumps to drain and returns ctx.Err(). A hub
// runs once; later calls return ErrHubStopped.
func (h *Hub) RunWithContext(ctx context.Context) error {
	if h.handler == nil {
		return errors.New("server: hub has no event handler")
	}

	started := false
	h.startOnce.Do(func() {
		started = true
		// Frames already read must be handled to completion even while
		// the hub stops.
		h.ctx = context.WithoutCancel(ctx)
		close(h.running)
	})
	if !started {
		return ErrHubStopped
	}

	logging.Info().Msg("hub started")
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			close(h.done)
			return ctx.Err()

		case client := <-h.register:
			h.add(client)

		case client := <-h.unregister:
			h.remove(client)
		}
	}
}

func (h *Hub) add(client *Client) {
	if client == nil {
		logging.Warn().Msg("received nil client registration; skipping")
		return
	}

	h.mutex.Lock()
	client.closed = false
	h.clients[client.id] = client
	clientCount := len(h.clients)
	h.mutex.Unlock()

	metrics.ConnectedClients.Set(float64(clientCount))
	h.handler.Connect(client.id)
	logging.Info().Str("conn", string(client.id)).Str("addr", client.addr).Int("total_clients", clientCount).Msg("client registered")

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// remove drops client from the hub before the handler learns of the
// disconnect, so no frame reaches a released connection.
func (h *Hub) remove(client *Client) {
	h.mutex.Lock()
	if current, ok := h.clients[client.id]; !ok || current != client {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client.id)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)
	metrics.ConnectedClients.Set(float64(clientCount))
	h.handler.Disconnect(client.id)
	logging.Info().Str("conn", string(client.id)).Str("addr", client.addr).Int("total_clients", clientCount).Msg("client unregistered")
}

// shutdown closes every client connection and keeps releasing clients until
// all pumps have stopped or the drain timeout passes.
func (h *Hub) shutdown() {
	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	logging.Info().Int("clients", len(clients)).Msg("shutting down client connections")
	for _, client := range clients {
		client.close()
	}

	pumpsDone := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(pumpsDone)
	}()

	timeout := time.NewTimer(h.drainLimit)
	defer timeout.Stop()
	for {
		select {
		case client := <-h.unregister:
			h.remove(client)
		case <-pumpsDone:
			logging.Info().Msg("hub shutdown completed")
			return
		case <-timeout.C:
			logging.Warn().Int("remaining_clients", h.Len()).Msg("hub shutdown timeout reached, some goroutines may still be running")
			return
		}
	}
}
