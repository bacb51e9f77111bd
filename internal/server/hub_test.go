package server

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubEmitTargetsOneConnection(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	a, b := attach(hub), attach(hub)

	hub.Emit(a.id, "roomsList", []string{"general"})

	got := queued(t, a)
	require.Len(t, got, 1)
	assert.Equal(t, "roomsList", got[0].Event)
	assert.JSONEq(t, `["general"]`, string(got[0].Data))
	assert.Empty(t, queued(t, b))
}

func TestHubEmitUnknownConnection(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	a := attach(hub)

	hub.Emit("missing", "roomsList", []string{})
	assert.Empty(t, queued(t, a))
}

func TestHubEmitToRoom(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	a, b, outsider := attach(hub), attach(hub), attach(hub)
	hub.JoinRoom(a.id, "general")
	hub.JoinRoom(b.id, "general")
	hub.JoinRoom(outsider.id, "random")

	hub.EmitToRoom("general", "typing", "alice", a.id)

	assert.Empty(t, queued(t, a), "excluded connection")
	assert.Equal(t, []string{"typing"}, eventNames(queued(t, b)))
	assert.Empty(t, queued(t, outsider))

	hub.EmitToRoom("general", "message", map[string]string{"message": "hi"}, "")
	assert.Len(t, queued(t, a), 1)
	assert.Len(t, queued(t, b), 1)
	assert.Equal(t, 2, hub.RoomSize("general"))
}

func TestHubEmitToAll(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	clients := []*Client{attach(hub), attach(hub), attach(hub)}

	hub.EmitToAll("roomsList", []string{"a", "b"})

	for _, c := range clients {
		assert.Equal(t, []string{"roomsList"}, eventNames(queued(t, c)))
	}
}

func TestHubJoinRoomIsIdempotent(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	a := attach(hub)

	hub.JoinRoom(a.id, "general")
	hub.JoinRoom(a.id, "general")
	hub.JoinRoom("missing", "general")

	assert.Equal(t, 1, hub.RoomSize("general"))
}

func TestHubEvictsSlowClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	slow, fast := attach(hub), attach(hub)
	hub.JoinRoom(slow.id, "general")
	hub.JoinRoom(fast.id, "general")

	for i := 0; i < sendBuffer; i++ {
		slow.send <- []byte(`{"event":"filler"}`)
	}

	hub.EmitToRoom("general", "message", "hello", "")

	assert.Equal(t, 1, hub.ClientCount())
	assert.Equal(t, 1, hub.RoomSize("general"))
	assert.True(t, slow.closed)
	assert.Equal(t, []string{"message"}, eventNames(queued(t, fast)))

	// Deliveries after eviction are dropped without panicking.
	assert.NotPanics(t, func() { hub.Emit(slow.id, "message", "again") })
}

func TestHubDetachRemovesRoomMembership(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	a := attach(hub)
	hub.JoinRoom(a.id, "general")

	assert.True(t, hub.detach(a))
	assert.False(t, hub.detach(a), "second detach is a no-op")
	assert.Equal(t, 0, hub.RoomSize("general"))
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHubShutdown(t *testing.T) {
	s := newStack(t, nil)
	conn := s.dial(t)

	require.Eventually(t, func() bool { return s.hub.ClientCount() == 1 }, eventWait, 10*time.Millisecond)

	require.NoError(t, s.hub.Shutdown(2*time.Second))
	assert.Equal(t, 0, s.hub.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(eventWait)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "connection is closed by the server")

	assert.False(t, s.hub.Register(NewClient(nil, s.hub, nil, s.cfg, "late")), "registration refused after shutdown")
}
