package client

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/huddle-chat/huddle/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTimer struct {
	fn      func()
	stopped bool
}

func (f *fakeTimer) Stop() bool {
	was := !f.stopped
	f.stopped = true
	return was
}

// fire runs the callback even if stopped, as a timer racing Stop would
func (f *fakeTimer) fire() { f.fn() }

type fakeClock struct {
	timers []*fakeTimer
}

func (c *fakeClock) afterFunc(d time.Duration, fn func()) Timer {
	t := &fakeTimer{fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) last() *fakeTimer {
	return c.timers[len(c.timers)-1]
}

func newTestTracker(ch *fakeChannel) (*TypingTracker, *fakeClock) {
	clock := &fakeClock{}
	tracker := NewTypingTracker(ch, time.Second, zap.NewNop())
	tracker.afterFunc = clock.afterFunc
	return tracker, clock
}

func TestTypingFirstKeystrokeSendsOnce(t *testing.T) {
	ch := &fakeChannel{connected: true}
	tracker, clock := newTestTracker(ch)
	teamID := uuid.New()

	for i := 0; i < 5; i++ {
		require.NoError(t, tracker.Input(teamID))
	}
	assert.Equal(t, []sentEvent{{protocol.EventTyping, teamID}}, ch.events())
	assert.True(t, tracker.IsTyping(teamID))

	require.Len(t, clock.timers, 5)
	for _, timer := range clock.timers[:4] {
		assert.True(t, timer.stopped, "each keystroke pushes the deadline back")
	}
}

func TestTypingExpiresAfterIdle(t *testing.T) {
	ch := &fakeChannel{connected: true}
	tracker, clock := newTestTracker(ch)
	teamID := uuid.New()

	require.NoError(t, tracker.Input(teamID))
	clock.last().fire()

	assert.False(t, tracker.IsTyping(teamID))
	assert.Equal(t, []sentEvent{
		{protocol.EventTyping, teamID},
		{protocol.EventStopTyping, teamID},
	}, ch.events())

	require.NoError(t, tracker.Input(teamID))
	assert.Equal(t, 2, ch.count(protocol.EventTyping), "typing again after expiry announces again")
}

func TestTypingStaleTimerIsIgnored(t *testing.T) {
	ch := &fakeChannel{connected: true}
	tracker, clock := newTestTracker(ch)
	teamID := uuid.New()

	require.NoError(t, tracker.Input(teamID))
	stale := clock.last()
	require.NoError(t, tracker.Input(teamID))

	stale.fire()
	assert.True(t, tracker.IsTyping(teamID))
	assert.Equal(t, 0, ch.count(protocol.EventStopTyping))

	clock.last().fire()
	assert.Equal(t, 1, ch.count(protocol.EventStopTyping))
}

func TestTypingFlush(t *testing.T) {
	ch := &fakeChannel{connected: true}
	tracker, clock := newTestTracker(ch)
	teamID := uuid.New()

	tracker.Flush(teamID)
	assert.Empty(t, ch.events(), "flush without typing sends nothing")

	require.NoError(t, tracker.Input(teamID))
	tracker.Flush(teamID)
	assert.True(t, clock.last().stopped)
	assert.Equal(t, 1, ch.count(protocol.EventStopTyping))

	// the timer firing after a flush does not send a second stop
	clock.last().fire()
	assert.Equal(t, 1, ch.count(protocol.EventStopTyping))
}

func TestTypingSendFailureResets(t *testing.T) {
	ch := &fakeChannel{}
	tracker, _ := newTestTracker(ch)
	teamID := uuid.New()

	assert.ErrorIs(t, tracker.Input(teamID), ErrNotConnected)
	assert.False(t, tracker.IsTyping(teamID))

	ch.open()
	require.NoError(t, tracker.Input(teamID))
	assert.Equal(t, 1, ch.count(protocol.EventTyping))
}

func TestTypingTeamsAreIndependent(t *testing.T) {
	ch := &fakeChannel{connected: true}
	tracker, _ := newTestTracker(ch)
	teamA, teamB := uuid.New(), uuid.New()

	require.NoError(t, tracker.Input(teamA))
	require.NoError(t, tracker.Input(teamB))
	tracker.Flush(teamA)

	assert.False(t, tracker.IsTyping(teamA))
	assert.True(t, tracker.IsTyping(teamB))
}

func TestTypingRemoteUsers(t *testing.T) {
	tracker, _ := newTestTracker(&fakeChannel{})
	sub := tracker.Subscribe()
	teamID, other := uuid.New(), uuid.New()
	bo, ana := uuid.New(), uuid.New()

	tracker.OnUserTyping(protocol.UserTypingPayload{UserID: bo, UserName: "Bo", TeamID: teamID})
	tracker.OnUserTyping(protocol.UserTypingPayload{UserID: ana, UserName: "Ana", TeamID: teamID})
	tracker.OnUserTyping(protocol.UserTypingPayload{UserID: ana, UserName: "Ana", TeamID: teamID})
	tracker.OnUserTyping(protocol.UserTypingPayload{UserID: bo, UserName: "Bo", TeamID: other})

	typing := tracker.Typing(teamID)
	require.Len(t, typing, 2)
	assert.Equal(t, "Ana", typing[0].UserName)
	assert.Equal(t, "Bo", typing[1].UserName)
	assert.Equal(t, teamID, <-sub)

	tracker.OnUserStopTyping(protocol.UserStopTypingPayload{UserID: bo, TeamID: teamID})
	typing = tracker.Typing(teamID)
	require.Len(t, typing, 1)
	assert.Equal(t, ana, typing[0].UserID)
	assert.Len(t, tracker.Typing(other), 1)

	tracker.Clear(teamID)
	assert.Empty(t, tracker.Typing(teamID))

	tracker.ClearAll()
	assert.Empty(t, tracker.Typing(other))
}
