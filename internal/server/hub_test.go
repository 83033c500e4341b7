package server

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/huddle-chat/huddle/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(NewMetrics(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func newFakeClient(hub *Hub) *Client {
	c := &Client{
		hub:    hub,
		send:   make(chan *protocol.Envelope, sendBufferSize),
		rooms:  make(map[uuid.UUID]bool),
		UserID: uuid.New(),
		logger: zap.NewNop(),
	}
	hub.Register(c)
	return c
}

func nextEnvelope(t *testing.T, c *Client) *protocol.Envelope {
	t.Helper()
	select {
	case env, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func assertNoEnvelope(t *testing.T, c *Client) {
	t.Helper()
	select {
	case env := <-c.send:
		t.Fatalf("unexpected event %s", env.Event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubBroadcastToTeamOnlyReachesRoom(t *testing.T) {
	hub := newTestHub(t)
	teamID := uuid.New()

	inRoom := newFakeClient(hub)
	outside := newFakeClient(hub)
	assert.True(t, hub.JoinRoom(inRoom, teamID))
	assert.False(t, hub.JoinRoom(inRoom, teamID), "second join is a no-op")

	require.NoError(t, hub.BroadcastToTeam(teamID, protocol.EventNewMessage, map[string]string{"id": "1"}, nil))

	env := nextEnvelope(t, inRoom)
	assert.Equal(t, protocol.EventNewMessage, env.Event)
	require.NotNil(t, env.Seq)
	assertNoEnvelope(t, outside)
}

func TestHubExcludesUser(t *testing.T) {
	hub := newTestHub(t)
	teamID := uuid.New()

	sender := newFakeClient(hub)
	other := newFakeClient(hub)
	hub.JoinRoom(sender, teamID)
	hub.JoinRoom(other, teamID)

	require.NoError(t, hub.BroadcastToTeam(teamID, protocol.EventUserTyping, nil, &sender.UserID))

	assert.Equal(t, protocol.EventUserTyping, nextEnvelope(t, other).Event)
	assertNoEnvelope(t, sender)
}

func TestHubLeaveAndUnregister(t *testing.T) {
	hub := newTestHub(t)
	teamID := uuid.New()

	c := newFakeClient(hub)
	hub.JoinRoom(c, teamID)
	assert.Equal(t, 1, hub.RoomSize(teamID))

	assert.True(t, hub.LeaveRoom(c, teamID))
	assert.False(t, hub.LeaveRoom(c, teamID))
	assert.Equal(t, 0, hub.RoomSize(teamID))

	left := make(chan []uuid.UUID, 1)
	hub.onUnregister = func(_ *Client, teams []uuid.UUID) { left <- teams }
	hub.JoinRoom(c, teamID)
	hub.Unregister(c)

	select {
	case teams := <-left:
		assert.Equal(t, []uuid.UUID{teamID}, teams)
	case <-time.After(2 * time.Second):
		t.Fatal("unregister callback not called")
	}
	_, ok := <-c.send
	assert.False(t, ok, "send channel is closed on unregister")
	assert.False(t, c.trySend(&protocol.Envelope{}))
}

func TestHubSequenceIncreases(t *testing.T) {
	hub := NewHub(NewMetrics(), zap.NewNop())
	a := hub.NextSequence()
	b := hub.NextSequence()
	assert.Greater(t, b, a)
}

func TestTypingManagerExpiry(t *testing.T) {
	hub := newTestHub(t)
	teamID := uuid.New()
	watcher := newFakeClient(hub)
	hub.JoinRoom(watcher, teamID)

	now := time.Now()
	tm := NewTypingManager(hub, 10*time.Second, zap.NewNop())
	tm.now = func() time.Time { return now }

	typist := uuid.New()
	tm.StartTyping(teamID, typist, "Ana")

	env := nextEnvelope(t, watcher)
	require.Equal(t, protocol.EventUserTyping, env.Event)
	var typing protocol.UserTypingPayload
	require.NoError(t, env.Decode(&typing))
	assert.Equal(t, "Ana", typing.UserName)

	now = now.Add(5 * time.Second)
	tm.sweep()
	assert.True(t, tm.IsTyping(teamID, typist))
	assertNoEnvelope(t, watcher)

	now = now.Add(6 * time.Second)
	tm.sweep()
	assert.False(t, tm.IsTyping(teamID, typist))

	env = nextEnvelope(t, watcher)
	require.Equal(t, protocol.EventUserStopTyping, env.Event)
	var stop protocol.UserStopTypingPayload
	require.NoError(t, env.Decode(&stop))
	assert.Equal(t, typist, stop.UserID)
}

func TestTypingManagerStopOnlyWhenTyping(t *testing.T) {
	hub := newTestHub(t)
	teamID := uuid.New()
	watcher := newFakeClient(hub)
	hub.JoinRoom(watcher, teamID)

	tm := NewTypingManager(hub, 10*time.Second, zap.NewNop())
	typist := uuid.New()

	assert.False(t, tm.StopTyping(teamID, typist))
	assertNoEnvelope(t, watcher)

	tm.StartTyping(teamID, typist, "Ana")
	nextEnvelope(t, watcher)
	assert.True(t, tm.StopTyping(teamID, typist))
	assert.Equal(t, protocol.EventUserStopTyping, nextEnvelope(t, watcher).Event)
}

func TestConfigValidate(t *testing.T) {
	config := DefaultConfig()
	assert.Error(t, config.Validate(), "default config has no secret")

	config.JWTSecret = "0123456789abcdef"
	assert.NoError(t, config.Validate())

	config.Port = 0
	assert.Error(t, config.Validate())
}
