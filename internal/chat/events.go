package chat

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Event names on the wire. Inbound and outbound share the envelope format.
const (
	EventAuthenticate = "authenticate"
	EventNewMessage   = "new message"
	EventGetUserList  = "get user list"

	EventUserAuthorized    = "user authorized"
	EventYouJoinedRoom     = "you joined a room"
	EventYouLeftRoom       = "you left a room"
	EventUserJoinedRoom    = "a different user joined a room"
	EventUserDisconnecting = "a different user is disconnecting"
)

// Envelope is a single frame: {"event": "...", "data": ...}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewMessage is the data of an inbound "new message" event.
type NewMessage struct {
	Room    string `json:"room"`
	Message string `json:"message"`
}

// JoinedRoom is sent to a connection after it joins a room. Userlist holds
// every live member, the joiner included, sorted by username.
type JoinedRoom struct {
	Room     string     `json:"room"`
	Userlist []Identity `json:"userlist"`
	User     Identity   `json:"user"`
}

// LeftRoom is sent to a connection after it leaves a room.
type LeftRoom struct {
	Room string `json:"room"`
}

// MemberEvent announces an arrival or a departure to the rest of a room.
type MemberEvent struct {
	Room string   `json:"room"`
	User Identity `json:"user"`
}

// ChatMessage is a persisted message as broadcast to a room.
type ChatMessage struct {
	Room      string   `json:"room"`
	Message   string   `json:"message"`
	User      Identity `json:"user"`
	Timestamp string   `json:"timestamp"`
}

// UserList answers "get user list".
type UserList struct {
	Room     string     `json:"room"`
	Userlist []Identity `json:"userlist"`
}

// Encode builds an outbound frame.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %q payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Decode parses an inbound frame.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event name", ErrMalformedFrame)
	}
	return env, nil
}

func decodeData(env Envelope, dst any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %q has no data", ErrMalformedFrame, env.Event)
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("%w: %q data: %w", ErrMalformedFrame, env.Event, err)
	}
	return nil
}
