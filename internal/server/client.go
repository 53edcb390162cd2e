package server

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/config"
	"github.com/Tyrowin/roomchat/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

// ClientOptions bounds what a single connection may send.
type ClientOptions struct {
	MaxMessageSize int64
	RateLimit      config.RateLimitConfig
}

// Client is one websocket connection. Its read pump hands every frame to the
// hub's EventHandler in arrival order; its write pump drains send.
type Client struct {
	id             chat.ConnID
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	addr           string
	closed         bool
	maxMessageSize int64
	limiter        *rate.Limiter
	rateLimit      config.RateLimitConfig
	closeOnce      sync.Once
}

// NewClient wraps conn with a fresh connection id.
func NewClient(conn *websocket.Conn, hub *Hub, addr string, opts ClientOptions) *Client {
	if conn != nil {
		conn.SetReadLimit(opts.MaxMessageSize)
	}

	return &Client{
		id:             chat.ConnID(uuid.NewString()),
		conn:           conn,
		send:           make(chan []byte, sendBuffer),
		hub:            hub,
		addr:           addr,
		maxMessageSize: opts.MaxMessageSize,
		limiter:        newRateLimiter(opts.RateLimit.Burst, opts.RateLimit.RefillInterval),
		rateLimit:      opts.RateLimit,
	}
}

// ID returns the connection id the chat service knows this client by.
func (c *Client) ID() chat.ConnID {
	return c.id
}

// GetSendChan returns the client's outbound queue.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// close tears the connection down; the read pump then releases the client.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		if c.conn == nil {
			return
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			logging.Warn().Err(err).Str("addr", c.addr).Msg("error closing client connection")
		}
	})
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Debug().Err(err).Str("addr", c.addr).Msg("error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// handleReadError logs err at a level matching how expected it is.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		logging.Warn().Str("addr", c.addr).Int64("max_bytes", c.maxMessageSize).Msg("message exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		logging.Debug().Str("addr", c.addr).Err(err).Msg("client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		logging.Debug().Str("addr", c.addr).Err(err).Msg("client connection closed")
	default:
		logging.Warn().Str("addr", c.addr).Err(err).Msg("websocket read error")
	}
}

// checkRateLimit reports whether the next frame may be processed.
func (c *Client) checkRateLimit() bool {
	if c.limiter != nil && !c.limiter.Allow() {
		logging.Warn().
			Str("conn", string(c.id)).
			Str("addr", c.addr).
			Int("burst", c.rateLimit.Burst).
			Dur("interval", c.rateLimit.RefillInterval).
			Msg("rate limit exceeded; discarding message")
		return false
	}
	return true
}

func (c *Client) processMessage(frame []byte) {
	if err := c.hub.handler.HandleEvent(c.hub.ctx, c.id, frame); err != nil {
		logging.Debug().Err(err).Str("conn", string(c.id)).Msg("event not applied")
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.release(c)
		c.close()
	}()

	c.setupReadConnection()

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processMessage(frame)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent returns false when the pump should stop.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}

	if !ok {
		c.writeCloseMessage()
		return false
	}

	return c.writeTextMessage(message)
}

func (c *Client) writeCloseMessage() {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		logging.Debug().Err(err).Str("addr", c.addr).Msg("error writing close message")
	}
}

// writeTextMessage writes message and anything already queued behind it as
// one websocket message, one frame per line.
func (c *Client) writeTextMessage(message []byte) bool {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		logging.Debug().Err(err).Str("addr", c.addr).Msg("error creating writer")
		return false
	}

	if _, err := w.Write(message); err != nil {
		logging.Debug().Err(err).Str("addr", c.addr).Msg("error writing message")
		return false
	}

	n := len(c.send)
	for i := 0; i < n; i++ {
		queued, ok := <-c.send
		if !ok {
			break
		}
		if _, err := w.Write(newline); err != nil {
			return false
		}
		if _, err := w.Write(queued); err != nil {
			logging.Debug().Err(err).Str("addr", c.addr).Msg("error writing queued message")
			return false
		}
	}

	if err := w.Close(); err != nil {
		logging.Debug().Err(err).Str("addr", c.addr).Msg("error closing writer")
		return false
	}
	return true
}

func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		logging.Debug().Err(err).Str("addr", c.addr).Msg("error writing ping")
		return false
	}
	return true
}
