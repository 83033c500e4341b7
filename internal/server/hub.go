package server

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/huddle-chat/huddle/internal/protocol"
	"go.uber.org/zap"
)

// Hub maintains the set of active clients and the team rooms they joined
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Room membership: team ID -> joined clients
	rooms map[uuid.UUID]map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Outbound dispatches
	broadcast chan *BroadcastMessage

	// Closed when Run returns
	done chan struct{}

	// Called after a client is removed, with the rooms it was in
	onUnregister func(c *Client, teams []uuid.UUID)

	mu sync.RWMutex

	// Sequence number for dispatch messages
	sequence int64
	seqMu    sync.Mutex

	metrics *Metrics
	logger  *zap.Logger
}

// BroadcastMessage is a dispatch addressed to a room or a single client
type BroadcastMessage struct {
	// Target: one of these should be set
	TeamID *uuid.UUID // Every client joined to the team room
	Client *Client    // A single connection

	// Exclude this user's connections (usually the sender)
	ExcludeUserID *uuid.UUID

	Message *protocol.Envelope
}

// NewHub creates a new Hub instance
func NewHub(metrics *Metrics, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[uuid.UUID]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
		metrics:    metrics,
		logger:     logger,
	}
}

// Run is the hub's main loop. When ctx ends every connection is closed.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.broadcastMessage(msg)

		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.closeSend()
	}
}

// Unregister removes a client from the hub and its rooms
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.metrics.ConnectedClients.Set(float64(count))
	h.logger.Debug("client registered", zap.Stringer("user_id", client.UserID), zap.String("session_id", client.SessionID))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)

	teams := make([]uuid.UUID, 0, len(client.rooms))
	for teamID := range client.rooms {
		teams = append(teams, teamID)
		h.removeFromRoom(client, teamID)
	}
	count, rooms := len(h.clients), len(h.rooms)
	h.mu.Unlock()

	client.closeSend()

	h.metrics.ConnectedClients.Set(float64(count))
	h.metrics.ActiveRooms.Set(float64(rooms))
	h.logger.Debug("client unregistered", zap.Stringer("user_id", client.UserID), zap.Int("rooms", len(teams)))

	// Off the hub loop: the callback may broadcast
	if h.onUnregister != nil {
		go h.onUnregister(client, teams)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.closeSend()
	}
	h.clients = make(map[*Client]bool)
	h.rooms = make(map[uuid.UUID]map[*Client]bool)
	h.metrics.ConnectedClients.Set(0)
	h.metrics.ActiveRooms.Set(0)
}

// broadcastMessage sends a message to the appropriate clients
func (h *Hub) broadcastMessage(msg *BroadcastMessage) {
	h.mu.RLock()
	var targets []*Client
	switch {
	case msg.Client != nil:
		if h.clients[msg.Client] {
			targets = []*Client{msg.Client}
		}
	case msg.TeamID != nil:
		for client := range h.rooms[*msg.TeamID] {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	h.metrics.Broadcasts.WithLabelValues(string(msg.Message.Event)).Inc()

	for _, client := range targets {
		if msg.ExcludeUserID != nil && client.UserID == *msg.ExcludeUserID {
			continue
		}
		if !client.trySend(msg.Message) {
			h.metrics.Dropped.Inc()
			h.logger.Warn("client buffer full, dropping event",
				zap.Stringer("user_id", client.UserID),
				zap.String("event", string(msg.Message.Event)))
		}
	}
}

// JoinRoom adds a client to a team room. It reports false when the client
// was already in the room.
func (h *Hub) JoinRoom(c *Client, teamID uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.rooms[teamID] {
		return false
	}
	if h.rooms[teamID] == nil {
		h.rooms[teamID] = make(map[*Client]bool)
	}
	h.rooms[teamID][c] = true
	c.rooms[teamID] = true
	h.metrics.ActiveRooms.Set(float64(len(h.rooms)))
	return true
}

// LeaveRoom removes a client from a team room. It reports false when the
// client was not in the room.
func (h *Hub) LeaveRoom(c *Client, teamID uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !c.rooms[teamID] {
		return false
	}
	h.removeFromRoom(c, teamID)
	h.metrics.ActiveRooms.Set(float64(len(h.rooms)))
	return true
}

// InRoom reports whether the client joined the team room
func (h *Hub) InRoom(c *Client, teamID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.rooms[teamID]
}

// RoomSize returns the number of connections joined to a team room
func (h *Hub) RoomSize(teamID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[teamID])
}

// UserInRoom reports whether any connection of the user is joined to the room
func (h *Hub) UserInRoom(userID, teamID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.rooms[teamID] {
		if client.UserID == userID {
			return true
		}
	}
	return false
}

// removeFromRoom must be called with h.mu held
func (h *Hub) removeFromRoom(c *Client, teamID uuid.UUID) {
	delete(c.rooms, teamID)
	if clients := h.rooms[teamID]; clients != nil {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, teamID)
		}
	}
}

// NextSequence returns the next sequence number for dispatch messages
func (h *Hub) NextSequence() int64 {
	h.seqMu.Lock()
	defer h.seqMu.Unlock()
	h.sequence++
	return h.sequence
}

func (h *Hub) enqueue(msg *BroadcastMessage) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// BroadcastToTeam sends an event to every connection joined to the team room
func (h *Hub) BroadcastToTeam(teamID uuid.UUID, event protocol.EventType, data interface{}, excludeUser *uuid.UUID) error {
	msg, err := protocol.NewDispatch(event, h.NextSequence(), data)
	if err != nil {
		return err
	}

	h.enqueue(&BroadcastMessage{
		TeamID:        &teamID,
		ExcludeUserID: excludeUser,
		Message:       msg,
	})
	return nil
}

// SendToClient sends an event to a single connection
func (h *Hub) SendToClient(c *Client, event protocol.EventType, data interface{}) error {
	msg, err := protocol.NewDispatch(event, h.NextSequence(), data)
	if err != nil {
		return err
	}

	h.enqueue(&BroadcastMessage{
		Client:  c,
		Message: msg,
	})
	return nil
}
