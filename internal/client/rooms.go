package client

import (
	"sync"

	"github.com/google/uuid"
	"github.com/huddle-chat/huddle/internal/protocol"
	"go.uber.org/zap"
)

// liveChannel is the part of Connection that room membership needs
type liveChannel interface {
	IsConnected() bool
	SendEvent(event protocol.EventType, data interface{}) error
	OnConnected(fn func())
}

// Rooms tracks which team rooms this client has asked to be in
type Rooms struct {
	conn   liveChannel
	logger *zap.Logger

	mu        sync.Mutex
	joined    map[uuid.UUID]bool // acknowledged by joined-team
	requested map[uuid.UUID]bool // join-team sent, no ack yet
	pending   map[uuid.UUID]bool // waiting for the next connect
}

// NewRooms creates room membership over the given channel
func NewRooms(conn liveChannel, logger *zap.Logger) *Rooms {
	return &Rooms{
		conn:      conn,
		logger:    logger,
		joined:    make(map[uuid.UUID]bool),
		requested: make(map[uuid.UUID]bool),
		pending:   make(map[uuid.UUID]bool),
	}
}

// Join asks to receive the team's live events. While disconnected the join
// is queued once and sent when the channel next opens.
func (r *Rooms) Join(teamID uuid.UUID) error {
	r.mu.Lock()
	if r.joined[teamID] || r.requested[teamID] || r.pending[teamID] {
		r.mu.Unlock()
		return nil
	}

	if !r.conn.IsConnected() {
		r.pending[teamID] = true
		r.mu.Unlock()
		r.conn.OnConnected(func() { r.sendPending(teamID) })
		return nil
	}

	r.requested[teamID] = true
	r.mu.Unlock()

	if err := r.conn.SendEvent(protocol.EventJoinTeam, protocol.TeamPayload{TeamID: teamID}); err != nil {
		r.mu.Lock()
		delete(r.requested, teamID)
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *Rooms) sendPending(teamID uuid.UUID) {
	r.mu.Lock()
	if !r.pending[teamID] {
		// left before the channel opened
		r.mu.Unlock()
		return
	}
	delete(r.pending, teamID)
	r.requested[teamID] = true
	r.mu.Unlock()

	if err := r.conn.SendEvent(protocol.EventJoinTeam, protocol.TeamPayload{TeamID: teamID}); err != nil {
		r.mu.Lock()
		delete(r.requested, teamID)
		r.mu.Unlock()
		r.logger.Warn("queued join failed", zap.String("team_id", teamID.String()), zap.Error(err))
	}
}

// Leave stops live events for the team. Nothing is sent while disconnected.
func (r *Rooms) Leave(teamID uuid.UUID) error {
	r.mu.Lock()
	delete(r.pending, teamID)
	delete(r.requested, teamID)
	delete(r.joined, teamID)
	r.mu.Unlock()

	if !r.conn.IsConnected() {
		return nil
	}
	return r.conn.SendEvent(protocol.EventLeaveTeam, protocol.TeamPayload{TeamID: teamID})
}

// HandleJoined records the server's joined-team acknowledgement
func (r *Rooms) HandleJoined(teamID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.requested[teamID] {
		return false
	}
	delete(r.requested, teamID)
	r.joined[teamID] = true
	return true
}

// HandleRejected drops an unacknowledged join the server refused
func (r *Rooms) HandleRejected(teamID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.requested[teamID] {
		return false
	}
	delete(r.requested, teamID)
	return true
}

// Joined reports whether the server acknowledged the join
func (r *Rooms) Joined(teamID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joined[teamID]
}

// Pending reports whether a join is waiting for the channel to open
func (r *Rooms) Pending(teamID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending[teamID]
}

// Reset handles a lost channel. The server forgets room membership with the
// connection, so every joined or requested room is queued for the next
// connect. It returns the requeued teams.
func (r *Rooms) Reset() []uuid.UUID {
	r.mu.Lock()
	var requeue []uuid.UUID
	for teamID := range r.joined {
		requeue = append(requeue, teamID)
	}
	for teamID := range r.requested {
		requeue = append(requeue, teamID)
	}
	r.joined = make(map[uuid.UUID]bool)
	r.requested = make(map[uuid.UUID]bool)
	for _, teamID := range requeue {
		r.pending[teamID] = true
	}
	r.mu.Unlock()

	for _, teamID := range requeue {
		id := teamID
		r.conn.OnConnected(func() { r.sendPending(id) })
	}
	return requeue
}
