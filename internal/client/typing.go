package client

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/huddle-chat/huddle/internal/models"
	"github.com/huddle-chat/huddle/internal/protocol"
	"go.uber.org/zap"
)

// DefaultTypingInterval is the idle time after which local typing stops
const DefaultTypingInterval = time.Second

// Timer is the part of *time.Timer the tracker uses
type Timer interface {
	Stop() bool
}

type eventSender interface {
	SendEvent(event protocol.EventType, data interface{}) error
}

type localTyping struct {
	timer Timer
	gen   uint64
}

// TypingTracker announces the local user's typing and keeps the set of
// remote users currently typing in each team.
type TypingTracker struct {
	conn      eventSender
	interval  time.Duration
	afterFunc func(d time.Duration, f func()) Timer
	logger    *zap.Logger

	mu     sync.Mutex
	local  map[uuid.UUID]*localTyping
	remote map[uuid.UUID]map[uuid.UUID]models.TypingSignal
	subs   []chan uuid.UUID
}

// NewTypingTracker creates a tracker sending over conn
func NewTypingTracker(conn eventSender, interval time.Duration, logger *zap.Logger) *TypingTracker {
	if interval <= 0 {
		interval = DefaultTypingInterval
	}
	return &TypingTracker{
		conn:     conn,
		interval: interval,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		logger: logger,
		local:  make(map[uuid.UUID]*localTyping),
		remote: make(map[uuid.UUID]map[uuid.UUID]models.TypingSignal),
	}
}

// Input records a keystroke in the team's composer. The first keystroke
// sends typing; each one pushes the idle deadline back.
func (t *TypingTracker) Input(teamID uuid.UUID) error {
	t.mu.Lock()
	st, active := t.local[teamID]
	if !active {
		st = &localTyping{}
		t.local[teamID] = st
	} else {
		st.timer.Stop()
	}
	st.gen++
	gen := st.gen
	st.timer = t.afterFunc(t.interval, func() { t.expire(teamID, gen) })
	t.mu.Unlock()

	if active {
		return nil
	}

	if err := t.conn.SendEvent(protocol.EventTyping, protocol.TeamPayload{TeamID: teamID}); err != nil {
		t.mu.Lock()
		if cur := t.local[teamID]; cur == st {
			cur.timer.Stop()
			delete(t.local, teamID)
		}
		t.mu.Unlock()
		return err
	}
	return nil
}

func (t *TypingTracker) expire(teamID uuid.UUID, gen uint64) {
	t.mu.Lock()
	st, ok := t.local[teamID]
	if !ok || st.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.local, teamID)
	t.mu.Unlock()

	t.sendStop(teamID)
}

// Flush stops local typing now, as when a message is submitted
func (t *TypingTracker) Flush(teamID uuid.UUID) {
	t.mu.Lock()
	st, ok := t.local[teamID]
	if !ok {
		t.mu.Unlock()
		return
	}
	st.timer.Stop()
	delete(t.local, teamID)
	t.mu.Unlock()

	t.sendStop(teamID)
}

func (t *TypingTracker) sendStop(teamID uuid.UUID) {
	if err := t.conn.SendEvent(protocol.EventStopTyping, protocol.TeamPayload{TeamID: teamID}); err != nil {
		t.logger.Debug("stop-typing not sent", zap.String("team_id", teamID.String()), zap.Error(err))
	}
}

// IsTyping reports whether the local user is typing in the team
func (t *TypingTracker) IsTyping(teamID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.local[teamID]
	return ok
}

// OnUserTyping records a remote user-typing event
func (t *TypingTracker) OnUserTyping(p protocol.UserTypingPayload) {
	t.mu.Lock()
	users := t.remote[p.TeamID]
	if users == nil {
		users = make(map[uuid.UUID]models.TypingSignal)
		t.remote[p.TeamID] = users
	}
	users[p.UserID] = models.TypingSignal{UserID: p.UserID, UserName: p.UserName, TeamID: p.TeamID}
	t.mu.Unlock()

	t.notify(p.TeamID)
}

// OnUserStopTyping records a remote user-stop-typing event
func (t *TypingTracker) OnUserStopTyping(p protocol.UserStopTypingPayload) {
	t.mu.Lock()
	users := t.remote[p.TeamID]
	_, ok := users[p.UserID]
	delete(users, p.UserID)
	t.mu.Unlock()

	if ok {
		t.notify(p.TeamID)
	}
}

// Typing returns the remote users typing in the team, sorted by name
func (t *TypingTracker) Typing(teamID uuid.UUID) []models.TypingSignal {
	t.mu.Lock()
	out := make([]models.TypingSignal, 0, len(t.remote[teamID]))
	for _, sig := range t.remote[teamID] {
		out = append(out, sig)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UserName != out[j].UserName {
			return out[i].UserName < out[j].UserName
		}
		return out[i].UserID.String() < out[j].UserID.String()
	})
	return out
}

// Clear forgets local and remote typing for one team without sending
func (t *TypingTracker) Clear(teamID uuid.UUID) {
	t.mu.Lock()
	if st, ok := t.local[teamID]; ok {
		st.timer.Stop()
		delete(t.local, teamID)
	}
	delete(t.remote, teamID)
	t.mu.Unlock()

	t.notify(teamID)
}

// ClearAll forgets everything, as after the channel drops
func (t *TypingTracker) ClearAll() {
	t.mu.Lock()
	teams := make([]uuid.UUID, 0, len(t.remote))
	for teamID := range t.remote {
		teams = append(teams, teamID)
	}
	for _, st := range t.local {
		st.timer.Stop()
	}
	t.local = make(map[uuid.UUID]*localTyping)
	t.remote = make(map[uuid.UUID]map[uuid.UUID]models.TypingSignal)
	t.mu.Unlock()

	for _, teamID := range teams {
		t.notify(teamID)
	}
}

// Subscribe returns a channel that receives a team ID whenever its remote
// typing set changes
func (t *TypingTracker) Subscribe() <-chan uuid.UUID {
	ch := make(chan uuid.UUID, 16)
	t.mu.Lock()
	t.subs = append(t.subs, ch)
	t.mu.Unlock()
	return ch
}

func (t *TypingTracker) notify(teamID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- teamID:
		default:
		}
	}
}
