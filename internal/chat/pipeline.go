package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/Tyrowin/roomchat/internal/metrics"
	"github.com/Tyrowin/roomchat/internal/store"
	"github.com/Tyrowin/roomchat/internal/validation"
)

// MaxMessageLength bounds a sanitized message body, in characters.
const MaxMessageLength = 2000

// Pipeline turns raw chat submissions into persisted, broadcast messages.
type Pipeline struct {
	policy   *bluemonday.Policy
	store    Store
	rooms    *Rooms
	presence *Presence
	now      func() time.Time
}

// NewPipeline builds a pipeline that strips all markup from submissions.
func NewPipeline(s Store, rooms *Rooms, presence *Presence) *Pipeline {
	return &Pipeline{
		policy:   bluemonday.StrictPolicy(),
		store:    s,
		rooms:    rooms,
		presence: presence,
		now:      time.Now,
	}
}

// Sanitize strips markup and surrounding whitespace. The result is empty or
// too long when the submission must be dropped, which is reported as
// ErrValidation.
func (p *Pipeline) Sanitize(raw string) (string, error) {
	text := strings.TrimSpace(p.policy.Sanitize(raw))
	if err := validation.Var(text, fmt.Sprintf("required,max=%d", MaxMessageLength)); err != nil {
		return "", fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return text, nil
}

// Post persists text as a message from id in room and broadcasts it to every
// member of the room. conn must be subscribed to room. Nothing is broadcast
// when persisting fails.
func (p *Pipeline) Post(ctx context.Context, conn ConnID, id Identity, room, text string) (ChatMessage, error) {
	if !p.rooms.IsSubscribed(conn, room) {
		return ChatMessage{}, fmt.Errorf("%w: %q", ErrNotInRoom, room)
	}

	ch, err := p.store.FindChannel(ctx, room)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("post to %q: %w", room, err)
	}

	msg := &store.Message{Data: text, UserID: id.ID, ChannelID: ch.ID}
	if err := p.store.SaveMessage(ctx, msg); err != nil {
		return ChatMessage{}, fmt.Errorf("post to %q: %w", room, err)
	}
	metrics.MessagesPersisted.Inc()

	created := msg.CreatedAt
	if created.IsZero() {
		created = p.now()
	}
	out := ChatMessage{
		Room:      room,
		Message:   msg.Data,
		User:      id,
		Timestamp: created.UTC().Format(time.RFC3339),
	}
	p.presence.Message(out)
	return out, nil
}
