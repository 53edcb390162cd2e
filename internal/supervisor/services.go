package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"
)

// ContextHub is a hub loop that stops when its context is cancelled.
type ContextHub interface {
	RunWithContext(ctx context.Context) error
}

// HubService runs the websocket hub under supervision.
type HubService struct {
	hub     ContextHub
	stopped error
}

// NewHubService wraps hub. A hub can run only once: when it reports stopped
// with the error given here, the supervisor does not restart it.
func NewHubService(hub ContextHub, stopped error) *HubService {
	return &HubService{hub: hub, stopped: stopped}
}

// Serve implements suture.Service.
func (s *HubService) Serve(ctx context.Context) error {
	err := s.hub.RunWithContext(ctx)
	if s.stopped != nil && errors.Is(err, s.stopped) {
		return suture.ErrDoNotRestart
	}
	return err
}

func (s *HubService) String() string {
	return "websocket-hub"
}

// HTTPServer is the subset of *http.Server the service drives.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService runs an HTTP server under supervision and shuts it down
// gracefully when the supervisor stops.
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewHTTPServerService wraps server.
func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service. http.ErrServerClosed is not a failure.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		// The original context is already cancelled.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()

		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPServerService) String() string {
	return "http-server"
}
