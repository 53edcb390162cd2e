package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/config"
	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/store"
	"github.com/Tyrowin/roomchat/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
		Output: os.Stderr,
	})
	logging.Info().Str("port", cfg.Server.Port).Msg("starting RoomChat server")

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	users := store.NewResilient(db, store.ResilientConfig{
		Timeout:     cfg.Store.Timeout,
		MaxFailures: cfg.Store.BreakerMaxFailures,
		Cooldown:    cfg.Store.BreakerCooldown,
	})

	jwtManager, err := auth.NewJWTManager(cfg.Security.JWTSecret, cfg.Security.SessionTimeout)
	if err != nil {
		return err
	}

	sessions, closeRedis, err := openSessions(cfg)
	if err != nil {
		return err
	}
	defer closeRedis()

	hub := server.NewHub()
	hub.SetDrainTimeout(cfg.Server.ShutdownTimeout)

	svc, err := chat.NewService(chat.Deps{
		Store:  users,
		Tokens: auth.NewAuthenticator(jwtManager, sessions, users),
		Sink:   hub,
	})
	if err != nil {
		return err
	}
	hub.SetHandler(svc)

	routes := server.SetupRoutes(server.Routes{
		WebSocket: server.NewWebSocketHandler(hub, server.NewOriginPolicy(cfg.Server.AllowedOrigins), server.ClientOptions{
			MaxMessageSize: cfg.Server.MaxMessageSize,
			RateLimit:      cfg.RateLimit,
		}),
		Auth: auth.NewHandlers(users, auth.NewPasswordHasher(), jwtManager, sessions),
	})
	httpServer := server.CreateServer(cfg.Server.Port, routes)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddMessagingService(supervisor.NewHubService(hub, server.ErrHubStopped))
	tree.AddAPIService(supervisor.NewHTTPServerService(httpServer, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logging.Info().Msg("server shut down")
	return err
}

// openSessions connects to redis when an address is configured. Without
// redis only JWTs are accepted as identity tokens.
func openSessions(cfg *config.Config) (*auth.SessionStore, func(), error) {
	if cfg.Redis.Addr == "" {
		logging.Info().Msg("redis not configured; session ids disabled")
		return nil, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	sessions := auth.NewSessionStore(client, cfg.Redis.KeyPrefix, cfg.Security.SessionTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Store.Timeout)
	defer cancel()
	if err := sessions.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	logging.Info().Str("addr", cfg.Redis.Addr).Msg("redis session store connected")
	return sessions, func() { _ = client.Close() }, nil
}
