package chat

import (
	"context"
	"errors"
	"fmt"
	"html"
	"slices"

	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/metrics"
	"github.com/Tyrowin/roomchat/internal/store"
)

// DefaultLobby is the room every authenticated identity belongs to.
const DefaultLobby = "lobby"

// TokenResolver turns an identity token into a stored user.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (*store.User, error)
}

// Deps are the collaborators of a Service.
type Deps struct {
	Store  Store
	Tokens TokenResolver
	Sink   Sink
	// Lobby defaults to DefaultLobby.
	Lobby string
}

// Service is the presence and room-membership coordinator. It owns the
// connection registry and the room membership store and is safe for
// concurrent use by many connections. Events of one connection must be
// handed in one at a time, in the order received.
type Service struct {
	registry *Registry
	rooms    *Rooms
	presence *Presence
	pipeline *Pipeline
	tokens   TokenResolver
	lobby    string
}

// NewService wires the chat components together.
func NewService(d Deps) (*Service, error) {
	if d.Store == nil || d.Tokens == nil || d.Sink == nil {
		return nil, errors.New("chat: store, token resolver and sink are required")
	}
	if d.Lobby == "" {
		d.Lobby = DefaultLobby
	}

	registry := NewRegistry()
	rooms := NewRooms(d.Store, registry)
	presence := NewPresence(rooms, d.Sink)
	return &Service{
		registry: registry,
		rooms:    rooms,
		presence: presence,
		pipeline: NewPipeline(d.Store, rooms, presence),
		tokens:   d.Tokens,
		lobby:    d.Lobby,
	}, nil
}

// Registry exposes the connection registry.
func (s *Service) Registry() *Registry { return s.registry }

// Rooms exposes the room membership store.
func (s *Service) Rooms() *Rooms { return s.rooms }

// Connect registers a new transport connection.
func (s *Service) Connect(conn ConnID) {
	s.registry.Register(conn)
	s.rooms.Open(conn)
	logging.Debug().Str("conn", string(conn)).Msg("connection registered")
}

// Disconnect releases conn. Every room it was subscribed to receives one
// departure notice, computed from the identity and room set conn had before
// removal. No frame is addressed to conn afterwards.
func (s *Service) Disconnect(conn ConnID) {
	id, bound := s.registry.IdentityOf(conn)
	rooms := s.presence.Disconnect(conn, id, bound)
	s.registry.Unbind(conn)

	ev := logging.Info().Str("conn", string(conn)).Strs("rooms", rooms)
	if bound {
		ev = ev.Str("user", id.Username)
	}
	ev.Msg("connection released")
}

// HandleEvent decodes one inbound frame and dispatches it. The returned error
// is for logging; the connection stays usable whatever it is.
func (s *Service) HandleEvent(ctx context.Context, conn ConnID, frame []byte) error {
	env, err := Decode(frame)
	if err != nil {
		metrics.InboundEvents.WithLabelValues("malformed", "error").Inc()
		return err
	}

	err = s.dispatch(ctx, conn, env)
	result := "ok"
	switch {
	case errors.Is(err, ErrUnknownEvent):
		result = "unknown"
	case err != nil:
		result = "error"
	}
	event := env.Event
	if result == "unknown" {
		event = "unknown"
	}
	metrics.InboundEvents.WithLabelValues(event, result).Inc()
	return err
}

func (s *Service) dispatch(ctx context.Context, conn ConnID, env Envelope) error {
	switch env.Event {
	case EventAuthenticate:
		var token string
		if err := decodeData(env, &token); err != nil {
			return err
		}
		_, err := s.Authenticate(ctx, conn, token)
		return err

	case EventNewMessage:
		var in NewMessage
		if err := decodeData(env, &in); err != nil {
			return err
		}
		return s.SubmitMessage(ctx, conn, in.Room, in.Message)

	case EventGetUserList:
		var room string
		if err := decodeData(env, &room); err != nil {
			return err
		}
		return s.UserList(conn, room)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

// Authenticate resolves token, makes sure the identity belongs to the lobby,
// binds it to conn and activates its rooms: "user authorized" first, then the
// lobby, then every other room, each with its snapshot and arrival sequence.
// Nothing is bound when the rooms cannot be loaded, so a failed attempt can be
// retried. Authenticating again with the same identity is a no-op.
func (s *Service) Authenticate(ctx context.Context, conn ConnID, token string) (Identity, error) {
	user, err := s.tokens.Resolve(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			return Identity{}, err
		}
		logging.Warn().Err(err).Str("conn", string(conn)).Msg("authentication rejected")
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	id := IdentityFromUser(user)
	if bound, ok := s.registry.IdentityOf(conn); ok {
		if bound.ID != id.ID {
			return Identity{}, ErrAlreadyBound
		}
		return id, nil
	}

	rooms, err := s.rooms.RoomsOf(ctx, id)
	if err != nil {
		return Identity{}, fmt.Errorf("load rooms of %q: %w", id.Username, err)
	}
	if !slices.Contains(rooms, s.lobby) {
		if _, err := s.rooms.Join(ctx, id, s.lobby); err != nil {
			return Identity{}, err
		}
	}
	rooms = slices.DeleteFunc(rooms, func(r string) bool { return r == s.lobby })
	rooms = append([]string{s.lobby}, rooms...)

	first, err := s.registry.Bind(conn, id)
	if err != nil {
		return Identity{}, err
	}
	if !first {
		return id, nil
	}
	logging.Info().Str("conn", string(conn)).Str("user", id.Username).Msg("connection authenticated")
	s.presence.Authorized(conn, id)

	for _, room := range rooms {
		// Subscribe only fails once conn has been closed.
		if err := s.presence.Join(conn, id, room); err != nil {
			logging.Debug().Err(err).Str("conn", string(conn)).Str("room", room).Msg("connection closed during activation")
			return id, nil
		}
	}
	return id, nil
}

// SubmitMessage runs a chat submission through the pipeline: markup is
// stripped, empty or oversized bodies are dropped, slash commands are routed
// and anything else is persisted and broadcast to room.
func (s *Service) SubmitMessage(ctx context.Context, conn ConnID, room, raw string) error {
	id, ok := s.registry.IdentityOf(conn)
	if !ok {
		return ErrUnauthenticated
	}

	text, err := s.pipeline.Sanitize(raw)
	if err != nil {
		logging.Debug().Str("conn", string(conn)).Str("room", room).Msg("empty or oversized message dropped")
		return err
	}

	in := ParseInput(text)
	if in.Kind == Command {
		return s.runCommand(ctx, conn, id, in)
	}

	_, err = s.pipeline.Post(ctx, conn, id, room, in.Text)
	if err != nil && !errors.Is(err, ErrNotInRoom) {
		logging.Warn().Err(err).Str("user", id.Username).Str("room", room).Msg("message not delivered")
	}
	return err
}

// runCommand routes a slash command. The argument arrives entity-escaped from
// the sanitizer; room names are stored unescaped.
func (s *Service) runCommand(ctx context.Context, conn ConnID, id Identity, in Input) error {
	room := html.UnescapeString(in.Arg)
	switch in.Name {
	case CommandJoin:
		return s.JoinRoom(ctx, conn, id, room)
	case CommandLeave:
		return s.LeaveRoom(ctx, id, room)
	default:
		logging.Debug().Str("conn", string(conn)).Str("command", in.Name).Msg("unknown command ignored")
		return nil
	}
}

// JoinRoom handles "/join room". An empty name is ignored. A room the identity
// already belongs to and conn is already subscribed to is left untouched, so
// repeating the command announces nothing.
func (s *Service) JoinRoom(ctx context.Context, conn ConnID, id Identity, room string) error {
	if room == "" {
		return nil
	}

	added, err := s.rooms.Join(ctx, id, room)
	if err != nil {
		logging.Warn().Err(err).Str("user", id.Username).Str("room", room).Msg("join failed")
		return err
	}
	if !added && s.rooms.IsSubscribed(conn, room) {
		return nil
	}

	if err := s.presence.Join(conn, id, room); err != nil && !errors.Is(err, ErrConnClosed) {
		return err
	}
	logging.Info().Str("user", id.Username).Str("room", room).Msg("joined room")
	return nil
}

// LeaveRoom handles "/leave room". An empty name or a room the identity is not
// in is ignored. The lobby may be left; that policy belongs to clients.
func (s *Service) LeaveRoom(ctx context.Context, id Identity, room string) error {
	if room == "" {
		return nil
	}

	removed, err := s.rooms.Leave(ctx, id, room)
	if err != nil {
		logging.Warn().Err(err).Str("user", id.Username).Str("room", room).Msg("leave failed")
		return err
	}

	unsubscribed := s.presence.Leave(id, room)
	if removed || unsubscribed {
		logging.Info().Str("user", id.Username).Str("room", room).Msg("left room")
	}
	return nil
}

// UserList answers "get user list" for an authenticated connection.
func (s *Service) UserList(conn ConnID, room string) error {
	if _, ok := s.registry.IdentityOf(conn); !ok {
		return ErrUnauthenticated
	}
	s.presence.UserList(conn, room)
	return nil
}
