package chat

import (
	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/metrics"
)

// Sink delivers an encoded frame to one connection. Deliver must not block:
// it is called with room locks held. It reports false when the frame was
// dropped because the connection is gone or cannot keep up.
type Sink interface {
	Deliver(conn ConnID, frame []byte) bool
}

// Presence emits the events that keep each client's view of its rooms
// consistent. Every emission derived from a membership change happens under
// the room lock taken by Rooms for that change.
type Presence struct {
	rooms *Rooms
	sink  Sink
}

// NewPresence builds a broadcaster over rooms writing to sink.
func NewPresence(rooms *Rooms, sink Sink) *Presence {
	return &Presence{rooms: rooms, sink: sink}
}

func (p *Presence) send(conn ConnID, event string, frame []byte) {
	metrics.OutboundEvents.WithLabelValues(event).Inc()
	if !p.sink.Deliver(conn, frame) {
		metrics.DroppedDeliveries.Inc()
		logging.Debug().Str("conn", string(conn)).Str("event", event).Msg("delivery dropped")
	}
}

func (p *Presence) encode(event string, payload any) []byte {
	frame, err := Encode(event, payload)
	if err != nil {
		logging.Error().Err(err).Str("event", event).Msg("encoding outbound event failed")
		return nil
	}
	return frame
}

// Authorized tells conn which identity it is now bound to.
func (p *Presence) Authorized(conn ConnID, id Identity) {
	if frame := p.encode(EventUserAuthorized, id); frame != nil {
		p.send(conn, EventUserAuthorized, frame)
	}
}

// Join subscribes conn to room and, atomically with that change, sends the
// member snapshot to conn. The other members receive an arrival notice only
// when conn is the identity's first connection in the room.
func (p *Presence) Join(conn ConnID, id Identity, room string) error {
	arrival := p.encode(EventUserJoinedRoom, MemberEvent{Room: room, User: id})

	return p.rooms.Subscribe(conn, room, func(members []ConnID) {
		snapshot := JoinedRoom{Room: room, Userlist: p.rooms.identities(members), User: id}
		if frame := p.encode(EventYouJoinedRoom, snapshot); frame != nil {
			p.send(conn, EventYouJoinedRoom, frame)
		}
		if arrival == nil || p.rooms.holds(members, id.ID, conn) {
			return
		}
		for _, other := range members {
			if other != conn {
				p.send(other, EventUserJoinedRoom, arrival)
			}
		}
	})
}

// Leave unsubscribes every connection of id from room. Each of them is told it
// left; every remaining member receives one departure notice.
func (p *Presence) Leave(id Identity, room string) bool {
	left := p.encode(EventYouLeftRoom, LeftRoom{Room: room})
	departure := p.encode(EventUserDisconnecting, MemberEvent{Room: room, User: id})

	return p.rooms.UnsubscribeIdentity(id.ID, room, func(removed, remaining []ConnID) {
		for _, conn := range removed {
			if left != nil {
				p.send(conn, EventYouLeftRoom, left)
			}
		}
		for _, conn := range remaining {
			if departure != nil {
				p.send(conn, EventUserDisconnecting, departure)
			}
		}
	})
}

// Disconnect removes conn from all its rooms. Each room where conn was the
// identity's last connection sends one departure notice to the members left
// behind. It returns the rooms conn was in.
func (p *Presence) Disconnect(conn ConnID, id Identity, bound bool) []string {
	return p.rooms.Close(conn, func(room string, remaining []ConnID) {
		if !bound || len(remaining) == 0 || p.rooms.holds(remaining, id.ID, conn) {
			return
		}
		departure := p.encode(EventUserDisconnecting, MemberEvent{Room: room, User: id})
		if departure == nil {
			return
		}
		for _, other := range remaining {
			p.send(other, EventUserDisconnecting, departure)
		}
	})
}

// UserList sends conn the live members of room.
func (p *Presence) UserList(conn ConnID, room string) {
	var list []Identity
	p.rooms.View(room, func(members []ConnID) {
		list = p.rooms.identities(members)
	})
	if list == nil {
		list = []Identity{}
	}
	if frame := p.encode(EventGetUserList, UserList{Room: room, Userlist: list}); frame != nil {
		p.send(conn, EventGetUserList, frame)
	}
}

// Message broadcasts a persisted message to every member of its room, the
// author included. It returns the number of recipients.
func (p *Presence) Message(msg ChatMessage) int {
	frame := p.encode(EventNewMessage, msg)
	if frame == nil {
		return 0
	}
	return p.rooms.Publish(msg.Room, "", func(conn ConnID) {
		p.send(conn, EventNewMessage, frame)
	})
}
