package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/huddle-chat/huddle/internal/models"
	"github.com/huddle-chat/huddle/internal/protocol"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	// Size of client send buffer
	sendBufferSize = 256

	// Typing events allowed per second per connection, and burst
	typingRate  = 4
	typingBurst = 8
)

// Client is one authenticated live-channel connection
type Client struct {
	// The WebSocket connection
	conn *websocket.Conn

	// The hub this client is connected to
	hub *Hub

	// Buffered channel of outbound messages
	send     chan *protocol.Envelope
	sendMu   sync.Mutex
	sendDone bool

	// Rooms joined, guarded by hub.mu
	rooms map[uuid.UUID]bool

	UserID    uuid.UUID
	User      *models.User
	SessionID string

	typingLimiter *rate.Limiter

	// Handlers for processing events
	handlers *Handlers
	logger   *zap.Logger
}

// NewClient creates a new client instance
func NewClient(conn *websocket.Conn, hub *Hub, handlers *Handlers, user *models.User, logger *zap.Logger) *Client {
	sessionID := uuid.NewString()
	return &Client{
		conn:          conn,
		hub:           hub,
		send:          make(chan *protocol.Envelope, sendBufferSize),
		rooms:         make(map[uuid.UUID]bool),
		UserID:        user.ID,
		User:          user,
		SessionID:     sessionID,
		typingLimiter: rate.NewLimiter(rate.Limit(typingRate), typingBurst),
		handlers:      handlers,
		logger:        logger.With(zap.Stringer("user_id", user.ID), zap.String("session_id", sessionID)),
	}
}

// ReadPump pumps events from the WebSocket connection to the handlers
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			break
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Debug("failed to parse event", zap.Error(err))
			c.sendError(protocol.ErrorCodeInvalidPayload, "Invalid message format", nil)
			continue
		}

		c.handleEvent(&env)
	}
}

// WritePump pumps events from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debug("failed to write event", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleEvent routes an incoming event by type
func (c *Client) handleEvent(env *protocol.Envelope) {
	switch env.Event {
	case protocol.EventJoinTeam:
		c.handlers.HandleJoinTeam(c, env)

	case protocol.EventLeaveTeam:
		c.handlers.HandleLeaveTeam(c, env)

	case protocol.EventTyping:
		if !c.typingLimiter.Allow() {
			c.handlers.metrics.TypingLimited.Inc()
			return
		}
		c.handlers.HandleTyping(c, env)

	case protocol.EventStopTyping:
		c.handlers.HandleStopTyping(c, env)

	default:
		c.logger.Debug("unknown event", zap.String("event", string(env.Event)))
		c.sendError(protocol.ErrorCodeUnknown, "Unknown event", nil)
	}
}

// trySend queues an event without blocking. It reports false when the
// buffer is full or the connection is shutting down.
func (c *Client) trySend(msg *protocol.Envelope) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendDone {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel once; WritePump then closes the socket
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendDone {
		c.sendDone = true
		close(c.send)
	}
}

// sendError sends an error event to the client
func (c *Client) sendError(code int, message string, teamID *uuid.UUID) {
	msg, err := protocol.NewEnvelope(protocol.EventError, &protocol.ErrorPayload{
		Code:    code,
		Message: message,
		TeamID:  teamID,
	})
	if err != nil {
		return
	}
	if !c.trySend(msg) {
		c.logger.Debug("failed to send error, buffer full")
	}
}
