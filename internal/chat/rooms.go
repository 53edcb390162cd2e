package chat

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/Tyrowin/roomchat/internal/metrics"
	"github.com/Tyrowin/roomchat/internal/store"
)

// Store is the persistence the chat core needs. store.Resilient satisfies it.
type Store interface {
	FindChannel(ctx context.Context, name string) (*store.Channel, error)
	CreateChannel(ctx context.Context, name string) (*store.Channel, error)
	ChannelNamesOf(ctx context.Context, userID uint) ([]string, error)
	IsMember(ctx context.Context, userID, channelID uint) (bool, error)
	AddMember(ctx context.Context, userID, channelID uint) error
	RemoveMember(ctx context.Context, userID, channelID uint) error
	SaveMessage(ctx context.Context, msg *store.Message) error
}

// group is the transient set of connections subscribed to one room.
// dead is set once the group is emptied and dropped from Rooms.groups.
type group struct {
	mu    sync.Mutex
	name  string
	conns map[ConnID]struct{}
	order []ConnID
	dead  bool
}

func (g *group) add(conn ConnID) bool {
	if _, ok := g.conns[conn]; ok {
		return false
	}
	g.conns[conn] = struct{}{}
	g.order = append(g.order, conn)
	return true
}

func (g *group) remove(conn ConnID) bool {
	if _, ok := g.conns[conn]; !ok {
		return false
	}
	delete(g.conns, conn)
	g.order = slices.DeleteFunc(g.order, func(c ConnID) bool { return c == conn })
	return true
}

func (g *group) members() []ConnID {
	return slices.Clone(g.order)
}

// Rooms is the single source of truth for room membership. Persisted
// membership lives in the Store; the per-room set of subscribed connections
// lives here and only ever contains connections that are still open.
//
// Lock order is group.mu before Rooms.mu before the Registry lock.
type Rooms struct {
	store    Store
	registry *Registry

	mu     sync.Mutex
	groups map[string]*group
	open   map[ConnID]map[string]struct{}
}

// NewRooms builds a membership store over s.
func NewRooms(s Store, registry *Registry) *Rooms {
	return &Rooms{
		store:    s,
		registry: registry,
		groups:   make(map[string]*group),
		open:     make(map[ConnID]map[string]struct{}),
	}
}

// FindOrCreateRoom returns the channel called name, creating it if needed.
// Losing a concurrent creation race is not an error: the winner's record is
// returned.
func (r *Rooms) FindOrCreateRoom(ctx context.Context, name string) (*store.Channel, error) {
	ch, err := r.store.FindChannel(ctx, name)
	if err == nil {
		return ch, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	ch, err = r.store.CreateChannel(ctx, name)
	if errors.Is(err, store.ErrDuplicateRoom) {
		return r.store.FindChannel(ctx, name)
	}
	return ch, err
}

// Join adds id to the persisted members of room, creating the room if needed.
// It reports whether a membership was added.
func (r *Rooms) Join(ctx context.Context, id Identity, room string) (bool, error) {
	ch, err := r.FindOrCreateRoom(ctx, room)
	if err != nil {
		return false, fmt.Errorf("join %q: %w", room, err)
	}
	member, err := r.store.IsMember(ctx, id.ID, ch.ID)
	if err != nil {
		return false, fmt.Errorf("join %q: %w", room, err)
	}
	if member {
		return false, nil
	}
	if err := r.store.AddMember(ctx, id.ID, ch.ID); err != nil {
		return false, fmt.Errorf("join %q: %w", room, err)
	}
	return true, nil
}

// Leave removes id from the persisted members of room. Leaving a room that
// does not exist or was never joined reports false and no error.
func (r *Rooms) Leave(ctx context.Context, id Identity, room string) (bool, error) {
	ch, err := r.store.FindChannel(ctx, room)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("leave %q: %w", room, err)
	}
	member, err := r.store.IsMember(ctx, id.ID, ch.ID)
	if err != nil {
		return false, fmt.Errorf("leave %q: %w", room, err)
	}
	if !member {
		return false, nil
	}
	if err := r.store.RemoveMember(ctx, id.ID, ch.ID); err != nil {
		return false, fmt.Errorf("leave %q: %w", room, err)
	}
	return true, nil
}

// IsMember reports persisted membership.
func (r *Rooms) IsMember(ctx context.Context, id Identity, room string) (bool, error) {
	ch, err := r.store.FindChannel(ctx, room)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return r.store.IsMember(ctx, id.ID, ch.ID)
}

// RoomsOf lists the rooms id persistently belongs to.
func (r *Rooms) RoomsOf(ctx context.Context, id Identity) ([]string, error) {
	return r.store.ChannelNamesOf(ctx, id.ID)
}

// Open makes conn eligible for subscriptions.
func (r *Rooms) Open(conn ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.open[conn]; !ok {
		r.open[conn] = make(map[string]struct{})
	}
}

// acquire returns the locked, live group for room, creating it if asked.
// It returns nil when the group does not exist and create is false.
func (r *Rooms) acquire(room string, create bool) *group {
	for {
		r.mu.Lock()
		g, ok := r.groups[room]
		if !ok {
			if !create {
				r.mu.Unlock()
				return nil
			}
			g = &group{name: room, conns: make(map[ConnID]struct{})}
			r.groups[room] = g
			metrics.LiveRooms.Inc()
		}
		r.mu.Unlock()

		g.mu.Lock()
		if !g.dead {
			return g
		}
		g.mu.Unlock()
	}
}

// release unlocks g, dropping it first if it has no members left.
func (r *Rooms) release(g *group) {
	if len(g.conns) == 0 && !g.dead {
		g.dead = true
		r.mu.Lock()
		if r.groups[g.name] == g {
			delete(r.groups, g.name)
			metrics.LiveRooms.Dec()
		}
		r.mu.Unlock()
	}
	g.mu.Unlock()
}

// Subscribe adds conn to the live set of room and, under the room lock, calls
// fn with the members after the change. It returns ErrConnClosed when conn has
// been closed. Subscribing twice is a no-op and fn is not called.
func (r *Rooms) Subscribe(conn ConnID, room string, fn func(members []ConnID)) error {
	g := r.acquire(room, true)
	defer r.release(g)

	r.mu.Lock()
	rooms, ok := r.open[conn]
	if ok {
		rooms[room] = struct{}{}
	}
	r.mu.Unlock()
	if !ok {
		return ErrConnClosed
	}

	if !g.add(conn) {
		return nil
	}
	if fn != nil {
		fn(g.members())
	}
	return nil
}

// Unsubscribe removes conn from the live set of room and, if it was present,
// calls fn with the remaining members under the room lock.
func (r *Rooms) Unsubscribe(conn ConnID, room string, fn func(remaining []ConnID)) bool {
	g := r.acquire(room, false)
	if g == nil {
		return false
	}
	defer r.release(g)

	if !g.remove(conn) {
		return false
	}
	r.mu.Lock()
	if rooms, ok := r.open[conn]; ok {
		delete(rooms, room)
	}
	r.mu.Unlock()

	if fn != nil {
		fn(g.members())
	}
	return true
}

// UnsubscribeIdentity removes every connection bound to identity id from the
// live set of room. Under the room lock fn receives the removed connections
// and the remaining members. It reports whether anything was removed.
func (r *Rooms) UnsubscribeIdentity(id uint, room string, fn func(removed, remaining []ConnID)) bool {
	g := r.acquire(room, false)
	if g == nil {
		return false
	}
	defer r.release(g)

	var removed []ConnID
	for _, conn := range g.members() {
		if who, ok := r.registry.IdentityOf(conn); ok && who.ID == id {
			g.remove(conn)
			removed = append(removed, conn)
		}
	}
	if len(removed) == 0 {
		return false
	}

	r.mu.Lock()
	for _, conn := range removed {
		if rooms, ok := r.open[conn]; ok {
			delete(rooms, room)
		}
	}
	r.mu.Unlock()

	if fn != nil {
		fn(removed, g.members())
	}
	return true
}

// Close removes conn from every room it is subscribed to. For each such room
// fn runs under the room lock with the remaining members. After Close, conn
// can no longer be subscribed anywhere.
func (r *Rooms) Close(conn ConnID, fn func(room string, remaining []ConnID)) []string {
	r.mu.Lock()
	rooms, ok := r.open[conn]
	delete(r.open, conn)
	r.mu.Unlock()
	if !ok {
		return nil
	}

	names := make([]string, 0, len(rooms))
	for room := range rooms {
		names = append(names, room)
	}
	slices.Sort(names)

	for _, room := range names {
		g := r.acquire(room, false)
		if g == nil {
			continue
		}
		if g.remove(conn) && fn != nil {
			fn(room, g.members())
		}
		r.release(g)
	}
	return names
}

// Publish calls fn for every member of room except the given connection.
// The room lock is held for the whole fan-out.
func (r *Rooms) Publish(room string, except ConnID, fn func(conn ConnID)) int {
	g := r.acquire(room, false)
	if g == nil {
		return 0
	}
	defer r.release(g)

	n := 0
	for _, conn := range g.order {
		if conn == except {
			continue
		}
		fn(conn)
		n++
	}
	return n
}

// View runs fn under the room lock with the current members. fn is not
// called for a room without subscribers.
func (r *Rooms) View(room string, fn func(members []ConnID)) {
	g := r.acquire(room, false)
	if g == nil {
		return
	}
	defer r.release(g)
	fn(g.members())
}

// IsSubscribed reports whether conn is in the live set of room.
func (r *Rooms) IsSubscribed(conn ConnID, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.open[conn][room]
	return ok
}

// Subscriptions lists the rooms conn is subscribed to, sorted.
func (r *Rooms) Subscriptions(conn ConnID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.open[conn]))
	for room := range r.open[conn] {
		names = append(names, room)
	}
	slices.Sort(names)
	return names
}

// Members returns the connections subscribed to room.
func (r *Rooms) Members(room string) []ConnID {
	var members []ConnID
	r.View(room, func(m []ConnID) { members = m })
	return members
}

// LiveMembers returns one identity per user with a subscribed connection in
// room, sorted by username.
func (r *Rooms) LiveMembers(room string) []Identity {
	return r.identities(r.Members(room))
}

// holds reports whether a connection in conns other than except is bound to
// identity id.
func (r *Rooms) holds(conns []ConnID, id uint, except ConnID) bool {
	for _, conn := range conns {
		if conn == except {
			continue
		}
		if who, ok := r.registry.IdentityOf(conn); ok && who.ID == id {
			return true
		}
	}
	return false
}

// identities resolves conns through the registry, dropping unbound
// connections and duplicate identities, and sorts by username.
func (r *Rooms) identities(conns []ConnID) []Identity {
	seen := make(map[uint]struct{}, len(conns))
	out := make([]Identity, 0, len(conns))
	for _, conn := range conns {
		id, ok := r.registry.IdentityOf(conn)
		if !ok {
			continue
		}
		if _, dup := seen[id.ID]; dup {
			continue
		}
		seen[id.ID] = struct{}{}
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, b Identity) int {
		if c := strings.Compare(a.Username, b.Username); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
