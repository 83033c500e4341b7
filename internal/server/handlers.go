package server

import (
	"errors"

	"github.com/google/uuid"
	"github.com/huddle-chat/huddle/internal/auth"
	"github.com/huddle-chat/huddle/internal/database"
	"github.com/huddle-chat/huddle/internal/models"
	"github.com/huddle-chat/huddle/internal/protocol"
	"go.uber.org/zap"
)

// Handlers processes live-channel events from clients
type Handlers struct {
	db      *database.DB
	hub     *Hub
	typing  *TypingManager
	tokens  *auth.TokenManager
	metrics *Metrics
	logger  *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(db *database.DB, hub *Hub, typing *TypingManager, tokens *auth.TokenManager, metrics *Metrics, logger *zap.Logger) *Handlers {
	return &Handlers{
		db:      db,
		hub:     hub,
		typing:  typing,
		tokens:  tokens,
		metrics: metrics,
		logger:  logger,
	}
}

// Authenticate validates a bearer token and returns the associated user
func (h *Handlers) Authenticate(token string) (*models.User, error) {
	claims, err := h.tokens.Validate(token)
	if err != nil {
		return nil, err
	}

	user, err := h.db.GetUserByID(claims.UserID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, auth.ErrInvalidToken
		}
		return nil, err
	}
	return user, nil
}

// decodeTeam reads a {teamId} payload, answering the client on failure
func decodeTeam(c *Client, env *protocol.Envelope) (uuid.UUID, bool) {
	var payload protocol.TeamPayload
	if err := env.Decode(&payload); err != nil || payload.TeamID == uuid.Nil {
		c.sendError(protocol.ErrorCodeInvalidPayload, "Invalid "+string(env.Event)+" payload", nil)
		return uuid.Nil, false
	}
	return payload.TeamID, true
}

// HandleJoinTeam adds the connection to a team room after checking that the
// user is an active member. Joining twice is acknowledged without side effects.
func (h *Handlers) HandleJoinTeam(c *Client, env *protocol.Envelope) {
	teamID, ok := decodeTeam(c, env)
	if !ok {
		return
	}

	member, err := h.db.GetMember(teamID, c.UserID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		c.sendError(protocol.ErrorCodeForbidden, "Not a member of this team", &teamID)
		return
	case err != nil:
		h.logger.Error("load membership", zap.Error(err), zap.Stringer("team_id", teamID))
		c.sendError(protocol.ErrorCodeServerError, "Failed to join team", &teamID)
		return
	case !member.IsActive():
		c.sendError(protocol.ErrorCodeForbidden, "Membership is inactive", &teamID)
		return
	}

	if h.hub.JoinRoom(c, teamID) {
		h.logger.Debug("joined team room", zap.Stringer("user_id", c.UserID), zap.Stringer("team_id", teamID))
	}
	if err := h.hub.SendToClient(c, protocol.EventJoinedTeam, &protocol.TeamPayload{TeamID: teamID}); err != nil {
		h.logger.Error("send joined-team", zap.Error(err))
	}
}

// HandleLeaveTeam removes the connection from a team room
func (h *Handlers) HandleLeaveTeam(c *Client, env *protocol.Envelope) {
	teamID, ok := decodeTeam(c, env)
	if !ok {
		return
	}

	if h.hub.LeaveRoom(c, teamID) && !h.hub.UserInRoom(c.UserID, teamID) {
		h.typing.StopTyping(teamID, c.UserID)
	}
	if err := h.hub.SendToClient(c, protocol.EventLeftTeam, &protocol.TeamPayload{TeamID: teamID}); err != nil {
		h.logger.Error("send left-team", zap.Error(err))
	}
}

// HandleTyping broadcasts user-typing to the rest of the room
func (h *Handlers) HandleTyping(c *Client, env *protocol.Envelope) {
	teamID, ok := decodeTeam(c, env)
	if !ok {
		return
	}
	if !h.hub.InRoom(c, teamID) {
		c.sendError(protocol.ErrorCodeForbidden, "Join the team before typing", &teamID)
		return
	}
	h.typing.StartTyping(teamID, c.UserID, c.User.GetDisplayName())
}

// HandleStopTyping broadcasts user-stop-typing to the rest of the room
func (h *Handlers) HandleStopTyping(c *Client, env *protocol.Envelope) {
	teamID, ok := decodeTeam(c, env)
	if !ok {
		return
	}
	h.typing.StopTyping(teamID, c.UserID)
}

// HandleDisconnect clears typing state for the rooms a closed connection was in
func (h *Handlers) HandleDisconnect(c *Client, teams []uuid.UUID) {
	for _, teamID := range teams {
		if !h.hub.UserInRoom(c.UserID, teamID) {
			h.typing.StopTyping(teamID, c.UserID)
		}
	}
}
