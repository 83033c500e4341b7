package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/huddle-chat/huddle/internal/protocol"
	"go.uber.org/zap"
)

// TypingIndicator tracks a user typing in a team room
type TypingIndicator struct {
	UserID    uuid.UUID
	UserName  string
	TeamID    uuid.UUID
	ExpiresAt time.Time
}

// TypingManager keeps a deadline per (team, user). A typing event refreshes
// it; expiry, stop-typing, leaving the room or disconnecting all broadcast
// user-stop-typing, so a client that vanishes mid-burst does not leave a
// stale indicator behind.
type TypingManager struct {
	indicators map[uuid.UUID]map[uuid.UUID]*TypingIndicator // team -> user -> indicator
	mu         sync.Mutex
	hub        *Hub
	timeout    time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// NewTypingManager creates a new typing manager
func NewTypingManager(hub *Hub, timeout time.Duration, logger *zap.Logger) *TypingManager {
	return &TypingManager{
		indicators: make(map[uuid.UUID]map[uuid.UUID]*TypingIndicator),
		hub:        hub,
		timeout:    timeout,
		now:        time.Now,
		logger:     logger,
	}
}

// StartTyping marks a user as typing and broadcasts user-typing to the room,
// excluding the user's own connections.
func (tm *TypingManager) StartTyping(teamID, userID uuid.UUID, userName string) {
	tm.mu.Lock()
	if tm.indicators[teamID] == nil {
		tm.indicators[teamID] = make(map[uuid.UUID]*TypingIndicator)
	}
	tm.indicators[teamID][userID] = &TypingIndicator{
		UserID:    userID,
		UserName:  userName,
		TeamID:    teamID,
		ExpiresAt: tm.now().Add(tm.timeout),
	}
	tm.mu.Unlock()

	payload := &protocol.UserTypingPayload{UserID: userID, UserName: userName, TeamID: teamID}
	if err := tm.hub.BroadcastToTeam(teamID, protocol.EventUserTyping, payload, &userID); err != nil {
		tm.logger.Error("broadcast user-typing", zap.Error(err))
	}
}

// StopTyping clears the indicator and broadcasts user-stop-typing if the user
// was typing. It reports whether anything was cleared.
func (tm *TypingManager) StopTyping(teamID, userID uuid.UUID) bool {
	tm.mu.Lock()
	_, ok := tm.indicators[teamID][userID]
	if ok {
		tm.remove(teamID, userID)
	}
	tm.mu.Unlock()

	if ok {
		tm.broadcastStop(teamID, userID)
	}
	return ok
}

// IsTyping reports whether the user currently types in the room
func (tm *TypingManager) IsTyping(teamID, userID uuid.UUID) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	_, ok := tm.indicators[teamID][userID]
	return ok
}

// Run sweeps expired indicators until ctx ends
func (tm *TypingManager) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tm.sweep()
		case <-ctx.Done():
			return
		}
	}
}

// sweep removes expired indicators and broadcasts their stop events
func (tm *TypingManager) sweep() {
	var expired []*TypingIndicator

	tm.mu.Lock()
	now := tm.now()
	for teamID, users := range tm.indicators {
		for userID, indicator := range users {
			if now.After(indicator.ExpiresAt) {
				expired = append(expired, indicator)
				tm.remove(teamID, userID)
			}
		}
	}
	tm.mu.Unlock()

	for _, indicator := range expired {
		tm.broadcastStop(indicator.TeamID, indicator.UserID)
	}
}

// remove must be called with tm.mu held
func (tm *TypingManager) remove(teamID, userID uuid.UUID) {
	users := tm.indicators[teamID]
	delete(users, userID)
	if len(users) == 0 {
		delete(tm.indicators, teamID)
	}
}

func (tm *TypingManager) broadcastStop(teamID, userID uuid.UUID) {
	payload := &protocol.UserStopTypingPayload{UserID: userID, TeamID: teamID}
	if err := tm.hub.BroadcastToTeam(teamID, protocol.EventUserStopTyping, payload, &userID); err != nil {
		tm.logger.Error("broadcast user-stop-typing", zap.Error(err))
	}
}
