package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/huddle-chat/huddle/internal/models"
)

// EventType names a live-channel event
type EventType string

const (
	// Client -> Server events
	EventJoinTeam   EventType = "join-team"
	EventLeaveTeam  EventType = "leave-team"
	EventTyping     EventType = "typing"
	EventStopTyping EventType = "stop-typing"

	// Server -> Client events
	EventNewMessage      EventType = "new-message"
	EventUserTyping      EventType = "user-typing"
	EventUserStopTyping  EventType = "user-stop-typing"
	EventJoinedTeam      EventType = "joined-team"
	EventLeftTeam        EventType = "left-team"
	EventReactionUpdated EventType = "reaction-updated"
	EventError           EventType = "error"
)

// Envelope is the frame carried over the websocket
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Seq   *int64          `json:"seq,omitempty"` // Set on server dispatches
}

// NewEnvelope creates a new envelope without a sequence number
func NewEnvelope(event EventType, data interface{}) (*Envelope, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
	}
	return &Envelope{
		Event: event,
		Data:  rawData,
	}, nil
}

// NewDispatch creates a server dispatch carrying a sequence number
func NewDispatch(event EventType, seq int64, data interface{}) (*Envelope, error) {
	env, err := NewEnvelope(event, data)
	if err != nil {
		return nil, err
	}
	env.Seq = &seq
	return env, nil
}

// Decode unmarshals the envelope's data into v
func (e *Envelope) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: invalid payload: %w", e.Event, err)
	}
	return nil
}

// --- Client -> Server Payloads ---

// TeamPayload addresses a team room. Used by join-team, leave-team, typing,
// stop-typing and the joined-team/left-team acknowledgements.
type TeamPayload struct {
	TeamID uuid.UUID `json:"teamId"`
}

// --- Server -> Client Payloads ---

// NewMessagePayload is dispatched to a room when a message is created
type NewMessagePayload struct {
	*models.Message
}

// UserTypingPayload is dispatched when a member starts typing
type UserTypingPayload struct {
	UserID   uuid.UUID `json:"userId"`
	UserName string    `json:"userName"`
	TeamID   uuid.UUID `json:"teamId"`
}

// UserStopTypingPayload is dispatched when a member stops typing
type UserStopTypingPayload struct {
	UserID uuid.UUID `json:"userId"`
	TeamID uuid.UUID `json:"teamId"`
}

// ReactionUpdatedPayload carries the full reaction set after a toggle
type ReactionUpdatedPayload struct {
	TeamID    uuid.UUID         `json:"teamId"`
	MessageID uuid.UUID         `json:"messageId"`
	Reactions []models.Reaction `json:"reactions"`
}

// --- Error Payloads ---

// ErrorPayload represents an error response
type ErrorPayload struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	TeamID  *uuid.UUID `json:"teamId,omitempty"`
}

func (e *ErrorPayload) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrorCodeUnknown        = 0
	ErrorCodeUnauthorized   = 4001
	ErrorCodeInvalidPayload = 4002
	ErrorCodeNotFound       = 4003
	ErrorCodeForbidden      = 4004
	ErrorCodeRateLimited    = 4005
	ErrorCodeServerError    = 4006
)
