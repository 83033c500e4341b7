package client

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/huddle-chat/huddle/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sentEvent struct {
	event  protocol.EventType
	teamID uuid.UUID
}

// fakeChannel records sent events and holds OnConnected listeners until open
type fakeChannel struct {
	mu        sync.Mutex
	connected bool
	sendErr   error
	sent      []sentEvent
	listeners []func()
}

func (f *fakeChannel) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) SendEvent(event protocol.EventType, data interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrNotConnected
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	p, _ := data.(protocol.TeamPayload)
	f.sent = append(f.sent, sentEvent{event: event, teamID: p.TeamID})
	return nil
}

func (f *fakeChannel) OnConnected(fn func()) {
	f.mu.Lock()
	if f.connected {
		f.mu.Unlock()
		fn()
		return
	}
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
}

func (f *fakeChannel) open() {
	f.mu.Lock()
	f.connected = true
	listeners := f.listeners
	f.listeners = nil
	f.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func (f *fakeChannel) drop() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeChannel) events() []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentEvent(nil), f.sent...)
}

func (f *fakeChannel) count(event protocol.EventType) int {
	n := 0
	for _, e := range f.events() {
		if e.event == event {
			n++
		}
	}
	return n
}

func TestRoomsJoinWhileConnected(t *testing.T) {
	ch := &fakeChannel{connected: true}
	rooms := NewRooms(ch, zap.NewNop())
	teamID := uuid.New()

	require.NoError(t, rooms.Join(teamID))
	require.NoError(t, rooms.Join(teamID))
	assert.Equal(t, []sentEvent{{protocol.EventJoinTeam, teamID}}, ch.events())
	assert.False(t, rooms.Joined(teamID), "not joined until acknowledged")

	assert.True(t, rooms.HandleJoined(teamID))
	assert.True(t, rooms.Joined(teamID))

	require.NoError(t, rooms.Join(teamID))
	assert.Equal(t, 1, ch.count(protocol.EventJoinTeam))
}

func TestRoomsJoinBeforeConnectSendsOnce(t *testing.T) {
	ch := &fakeChannel{}
	rooms := NewRooms(ch, zap.NewNop())
	teamID := uuid.New()

	require.NoError(t, rooms.Join(teamID))
	require.NoError(t, rooms.Join(teamID))
	assert.True(t, rooms.Pending(teamID))
	assert.Len(t, ch.listeners, 1, "one queued join per team")
	assert.Empty(t, ch.events())

	ch.open()
	assert.Equal(t, []sentEvent{{protocol.EventJoinTeam, teamID}}, ch.events())
	assert.False(t, rooms.Pending(teamID))
}

func TestRoomsLeaveBeforeConnectCancelsQueuedJoin(t *testing.T) {
	ch := &fakeChannel{}
	rooms := NewRooms(ch, zap.NewNop())
	teamID := uuid.New()

	require.NoError(t, rooms.Join(teamID))
	require.NoError(t, rooms.Leave(teamID))
	ch.open()

	assert.Empty(t, ch.events(), "nothing is sent for a room left before connect")
}

func TestRoomsLeave(t *testing.T) {
	ch := &fakeChannel{connected: true}
	rooms := NewRooms(ch, zap.NewNop())
	teamID := uuid.New()

	require.NoError(t, rooms.Join(teamID))
	rooms.HandleJoined(teamID)
	require.NoError(t, rooms.Leave(teamID))

	assert.False(t, rooms.Joined(teamID))
	assert.Equal(t, 1, ch.count(protocol.EventLeaveTeam))
}

func TestRoomsJoinSendFailureAllowsRetry(t *testing.T) {
	ch := &fakeChannel{connected: true, sendErr: ErrSendBufferFull}
	rooms := NewRooms(ch, zap.NewNop())
	teamID := uuid.New()

	err := rooms.Join(teamID)
	assert.True(t, errors.Is(err, ErrSendBufferFull))

	ch.sendErr = nil
	require.NoError(t, rooms.Join(teamID))
	assert.Equal(t, 1, ch.count(protocol.EventJoinTeam))
}

func TestRoomsHandleRejected(t *testing.T) {
	ch := &fakeChannel{connected: true}
	rooms := NewRooms(ch, zap.NewNop())
	teamID := uuid.New()

	assert.False(t, rooms.HandleRejected(teamID))
	require.NoError(t, rooms.Join(teamID))
	assert.True(t, rooms.HandleRejected(teamID))
	assert.False(t, rooms.HandleJoined(teamID), "a rejected join is not acknowledged later")

	require.NoError(t, rooms.Join(teamID))
	assert.Equal(t, 2, ch.count(protocol.EventJoinTeam))
}

func TestRoomsResetRequeuesForNextConnect(t *testing.T) {
	ch := &fakeChannel{connected: true}
	rooms := NewRooms(ch, zap.NewNop())
	joined, requested := uuid.New(), uuid.New()

	require.NoError(t, rooms.Join(joined))
	rooms.HandleJoined(joined)
	require.NoError(t, rooms.Join(requested))

	ch.drop()
	requeued := rooms.Reset()
	assert.ElementsMatch(t, []uuid.UUID{joined, requested}, requeued)
	assert.False(t, rooms.Joined(joined))
	assert.True(t, rooms.Pending(joined))
	assert.True(t, rooms.Pending(requested))

	ch.open()
	assert.Equal(t, 4, ch.count(protocol.EventJoinTeam))
	assert.True(t, rooms.HandleJoined(joined))
	assert.True(t, rooms.HandleJoined(requested))
}
