package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/store"
)

func newTestRooms(t *testing.T) (*Rooms, *Registry, *store.GormStore) {
	t.Helper()
	gs, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = gs.Close() })

	registry := NewRegistry()
	return NewRooms(gs, registry), registry, gs
}

// racingStore reports a channel as missing once, then loses the insert race.
type racingStore struct {
	Store
	mu      sync.Mutex
	lookups int
}

func (s *racingStore) FindChannel(context.Context, string) (*store.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.lookups == 1 {
		return nil, store.ErrNotFound
	}
	return &store.Channel{ID: 9, Name: "general"}, nil
}

func (s *racingStore) CreateChannel(context.Context, string) (*store.Channel, error) {
	return nil, fmt.Errorf("create: %w", store.ErrDuplicateRoom)
}

func TestFindOrCreateRoom_RefetchesAfterLostRace(t *testing.T) {
	rs := &racingStore{}
	r := NewRooms(rs, NewRegistry())

	ch, err := r.FindOrCreateRoom(context.Background(), "general")
	require.NoError(t, err)
	assert.Equal(t, uint(9), ch.ID)
	assert.Equal(t, 2, rs.lookups)
}

func TestFindOrCreateRoom_Concurrent(t *testing.T) {
	r, _, _ := newTestRooms(t)
	ctx := context.Background()

	const callers = 10
	ids := make(chan uint, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, err := r.FindOrCreateRoom(ctx, "general")
			if err != nil {
				t.Errorf("find or create: %v", err)
				return
			}
			ids <- ch.ID
		}()
	}
	wg.Wait()
	close(ids)

	var first uint
	count := 0
	for id := range ids {
		if first == 0 {
			first = id
		}
		assert.Equal(t, first, id)
		count++
	}
	assert.Equal(t, callers, count)
}

func TestRooms_PersistedMembership(t *testing.T) {
	r, _, gs := newTestRooms(t)
	ctx := context.Background()

	u := &store.User{Username: "alice", Color: "#123456"}
	require.NoError(t, gs.CreateUser(ctx, u))
	alice := Identity{ID: u.ID, Username: "alice"}

	added, err := r.Join(ctx, alice, "general")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = r.Join(ctx, alice, "general")
	require.NoError(t, err)
	assert.False(t, added)

	member, err := r.IsMember(ctx, alice, "general")
	require.NoError(t, err)
	assert.True(t, member)

	removed, err := r.Leave(ctx, alice, "general")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = r.Leave(ctx, alice, "general")
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = r.Leave(ctx, alice, "never-created")
	require.NoError(t, err)
	assert.False(t, removed)

	member, err = r.IsMember(ctx, alice, "never-created")
	require.NoError(t, err)
	assert.False(t, member)
}

func TestRooms_SubscribeUnsubscribe(t *testing.T) {
	r, _, _ := newTestRooms(t)
	r.Open("c1")
	r.Open("c2")

	var seen [][]ConnID
	record := func(members []ConnID) { seen = append(seen, members) }

	require.NoError(t, r.Subscribe("c1", "general", record))
	require.NoError(t, r.Subscribe("c2", "general", record))
	require.NoError(t, r.Subscribe("c2", "general", record))

	assert.Equal(t, [][]ConnID{{"c1"}, {"c1", "c2"}}, seen)
	assert.True(t, r.IsSubscribed("c1", "general"))
	assert.Equal(t, []string{"general"}, r.Subscriptions("c2"))

	var remaining []ConnID
	assert.True(t, r.Unsubscribe("c1", "general", func(m []ConnID) { remaining = m }))
	assert.Equal(t, []ConnID{"c2"}, remaining)
	assert.False(t, r.Unsubscribe("c1", "general", nil))
	assert.False(t, r.IsSubscribed("c1", "general"))

	assert.True(t, r.Unsubscribe("c2", "general", nil))
	assert.Nil(t, r.Members("general"))
	assert.False(t, r.Unsubscribe("c2", "nowhere", nil))
}

func TestRooms_CloseIsFinal(t *testing.T) {
	r, _, _ := newTestRooms(t)
	r.Open("c1")
	r.Open("c2")
	require.NoError(t, r.Subscribe("c1", "lobby", nil))
	require.NoError(t, r.Subscribe("c1", "general", nil))
	require.NoError(t, r.Subscribe("c2", "lobby", nil))

	calls := map[string][]ConnID{}
	rooms := r.Close("c1", func(room string, remaining []ConnID) {
		calls[room] = remaining
	})

	assert.Equal(t, []string{"general", "lobby"}, rooms)
	assert.Equal(t, map[string][]ConnID{"general": {}, "lobby": {"c2"}}, calls)

	assert.ErrorIs(t, r.Subscribe("c1", "lobby", nil), ErrConnClosed)
	assert.ErrorIs(t, r.Subscribe("never-opened", "lobby", nil), ErrConnClosed)
	assert.Equal(t, []ConnID{"c2"}, r.Members("lobby"))
	assert.Nil(t, r.Close("c1", nil))
}

func TestRooms_UnsubscribeIdentity(t *testing.T) {
	r, registry, _ := newTestRooms(t)
	for _, c := range []ConnID{"a1", "a2", "b1", "anon"} {
		registry.Register(c)
		r.Open(c)
		require.NoError(t, r.Subscribe(c, "lobby", nil))
	}
	_, _ = registry.Bind("a1", Identity{ID: 1, Username: "alice"})
	_, _ = registry.Bind("a2", Identity{ID: 1, Username: "alice"})
	_, _ = registry.Bind("b1", Identity{ID: 2, Username: "bob"})

	var removed, remaining []ConnID
	ok := r.UnsubscribeIdentity(1, "lobby", func(rm, rest []ConnID) {
		removed, remaining = rm, rest
	})
	assert.True(t, ok)
	assert.Equal(t, []ConnID{"a1", "a2"}, removed)
	assert.Equal(t, []ConnID{"b1", "anon"}, remaining)
	assert.Empty(t, r.Subscriptions("a1"))

	assert.False(t, r.UnsubscribeIdentity(1, "lobby", nil))
}

func TestRooms_LiveMembers(t *testing.T) {
	r, registry, _ := newTestRooms(t)
	for _, c := range []ConnID{"z", "a1", "a2", "anon", "m"} {
		registry.Register(c)
		r.Open(c)
		require.NoError(t, r.Subscribe(c, "lobby", nil))
	}
	_, _ = registry.Bind("z", Identity{ID: 3, Username: "zoe"})
	_, _ = registry.Bind("a1", Identity{ID: 1, Username: "adam"})
	_, _ = registry.Bind("a2", Identity{ID: 1, Username: "adam"})
	_, _ = registry.Bind("m", Identity{ID: 2, Username: "mia"})

	assert.Equal(t, []string{"adam", "mia", "zoe"}, usernames(r.LiveMembers("lobby")))
	assert.Empty(t, r.LiveMembers("empty"))
}

func TestRooms_Publish(t *testing.T) {
	r, _, _ := newTestRooms(t)
	for _, c := range []ConnID{"c1", "c2", "c3"} {
		r.Open(c)
		require.NoError(t, r.Subscribe(c, "lobby", nil))
	}

	var got []ConnID
	n := r.Publish("lobby", "c2", func(conn ConnID) { got = append(got, conn) })
	assert.Equal(t, 2, n)
	assert.Equal(t, []ConnID{"c1", "c3"}, got)

	assert.Equal(t, 0, r.Publish("empty", "", func(ConnID) { t.Fatal("no members expected") }))
}

// TestRooms_SubscribeRacesClose interleaves subscriptions with Close and
// checks that a closed connection never lingers in any room.
func TestRooms_SubscribeRacesClose(t *testing.T) {
	r, _, _ := newTestRooms(t)

	const conns = 50
	var wg sync.WaitGroup
	for i := 0; i < conns; i++ {
		conn := ConnID(fmt.Sprintf("c%d", i))
		r.Open(conn)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for _, room := range []string{"a", "b", "c"} {
				_ = r.Subscribe(conn, room, nil)
			}
		}()
		go func() {
			defer wg.Done()
			r.Close(conn, nil)
		}()
	}
	wg.Wait()

	for _, room := range []string{"a", "b", "c"} {
		assert.Empty(t, r.Members(room), room)
	}
}
