package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tyrowin/roomchat/internal/auth"
)

// Default per-IP limit on the registration and login endpoints.
const (
	DefaultAuthRequests = 20
	DefaultAuthWindow   = time.Minute
)

// Routes collects what SetupRoutes mounts.
type Routes struct {
	WebSocket http.Handler
	Auth      *auth.Handlers
	// AuthRequests per AuthWindow per client IP on /api.
	AuthRequests int
	AuthWindow   time.Duration
}

// SetupRoutes builds the HTTP router: health at /, the websocket at /ws, the
// test page, prometheus metrics and the rate-limited /api auth endpoints.
func SetupRoutes(rt Routes) http.Handler {
	if rt.AuthRequests <= 0 {
		rt.AuthRequests = DefaultAuthRequests
	}
	if rt.AuthWindow <= 0 {
		rt.AuthWindow = DefaultAuthWindow
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/", HealthHandler)
	r.Handle("/ws", rt.WebSocket)
	r.Get("/test", TestPageHandler)
	r.Handle("/metrics", promhttp.Handler())

	if rt.Auth != nil {
		r.Route("/api", func(r chi.Router) {
			r.Use(httprate.LimitByIP(rt.AuthRequests, rt.AuthWindow))
			r.Post("/register", rt.Auth.Register)
			r.Post("/login", rt.Auth.Login)
		})
	}
	return r
}
