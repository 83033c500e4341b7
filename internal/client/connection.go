package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/huddle-chat/huddle/internal/protocol"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendBufferSize = 256
	eventQueueSize = 256
)

// ConnectionState represents the state of the live channel
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateErrored
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateErrored:
		return "Error"
	default:
		return "Unknown"
	}
}

// EventKind tags an Event delivered by a Connection
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventErrored
	EventMessage
)

// Event is a lifecycle change or an inbound server event
type Event struct {
	Kind     EventKind
	Err      error
	Envelope *protocol.Envelope
}

// Connection owns the single live channel to the server. There is no
// automatic reconnect; callers decide when to Connect again.
type Connection struct {
	serverAddr string
	dialer     *websocket.Dialer
	logger     *zap.Logger
	events     chan Event

	mu        sync.Mutex
	conn      *websocket.Conn
	state     ConnectionState
	lastErr   error
	gen       uint64
	send      chan *protocol.Envelope
	done      chan struct{}
	listeners []func()
}

// NewConnection creates a connection for the server at serverAddr
// (http, https, ws or wss; a bare host:port is treated as http).
func NewConnection(serverAddr string, logger *zap.Logger) *Connection {
	return &Connection{
		serverAddr: serverAddr,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			Proxy:            http.ProxyFromEnvironment,
		},
		logger: logger,
		events: make(chan Event, eventQueueSize),
	}
}

// Events delivers lifecycle changes and inbound server events in order
func (c *Connection) Events() <-chan Event {
	return c.events
}

// Connect opens the live channel with the given credential. An existing
// channel is torn down first.
func (c *Connection) Connect(ctx context.Context, token string) error {
	c.Disconnect()

	if token == "" {
		return c.fail(0, &ConnectionError{Op: "dial", Err: ErrNoCredential})
	}

	u, err := liveURL(c.serverAddr, token)
	if err != nil {
		return c.fail(0, &ConnectionError{Op: "dial", Err: err})
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.state = StateConnecting
	c.lastErr = nil
	c.mu.Unlock()

	conn, resp, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			if mapped := statusError(resp.StatusCode); mapped != nil {
				err = fmt.Errorf("%w: %w", mapped, err)
			}
		} else {
			err = classifyTransport(err)
		}
		return c.fail(gen, &ConnectionError{Op: "dial", Err: err})
	}

	c.mu.Lock()
	if c.gen != gen {
		// Disconnect or another Connect won the race
		c.mu.Unlock()
		conn.Close()
		return &ConnectionError{Op: "dial", Err: context.Canceled}
	}
	c.conn = conn
	c.state = StateConnected
	c.send = make(chan *protocol.Envelope, sendBufferSize)
	c.done = make(chan struct{})
	listeners := c.listeners
	c.listeners = nil
	send, done := c.send, c.done
	c.mu.Unlock()

	go c.readPump(gen, conn, done)
	go c.writePump(conn, send, done)

	c.logger.Info("connected", zap.String("server", c.serverAddr))
	c.emit(Event{Kind: EventConnected})
	for _, fn := range listeners {
		fn()
	}
	return nil
}

// fail records err as the terminal state of attempt gen. gen 0 means the
// attempt never started.
func (c *Connection) fail(gen uint64, err error) error {
	c.mu.Lock()
	if gen != 0 && c.gen != gen {
		c.mu.Unlock()
		return err
	}
	c.state = StateErrored
	c.lastErr = err
	c.mu.Unlock()

	c.logger.Warn("connection failed", zap.Error(err))
	c.emit(Event{Kind: EventErrored, Err: err})
	return err
}

// Disconnect closes the live channel and cancels an in-flight Connect
func (c *Connection) Disconnect() {
	c.mu.Lock()
	c.gen++
	conn, done := c.conn, c.done
	wasOpen := conn != nil
	c.conn = nil
	c.state = StateDisconnected
	if wasOpen {
		close(done)
	}
	c.mu.Unlock()

	if !wasOpen {
		return
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	conn.Close()

	c.logger.Info("disconnected", zap.String("server", c.serverAddr))
	c.emit(Event{Kind: EventDisconnected})
}

// OnConnected runs fn once the channel is open: immediately if it already
// is, otherwise on the next successful Connect.
func (c *Connection) OnConnected(fn func()) {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		fn()
		return
	}
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// IsConnected returns true while the channel is open
func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected
}

// State returns the current connection state
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the error that put the connection in StateErrored
func (c *Connection) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Send queues an envelope on the open channel
func (c *Connection) Send(env *protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected {
		return ErrNotConnected
	}

	select {
	case c.send <- env:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// SendEvent builds an envelope and queues it
func (c *Connection) SendEvent(event protocol.EventType, data interface{}) error {
	env, err := protocol.NewEnvelope(event, data)
	if err != nil {
		return err
	}
	return c.Send(env)
}

func (c *Connection) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("event queue full, dropping lifecycle event", zap.Int("kind", int(ev.Kind)))
	}
}

// lost tears down attempt gen after the read side failed
func (c *Connection) lost(gen uint64, conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	close(c.done)
	c.conn = nil

	var ev Event
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.state = StateDisconnected
		ev = Event{Kind: EventDisconnected}
	} else {
		cerr := &ConnectionError{Op: "read", Err: err}
		c.state = StateErrored
		c.lastErr = cerr
		ev = Event{Kind: EventErrored, Err: cerr}
	}
	c.mu.Unlock()

	conn.Close()
	c.logger.Warn("connection lost", zap.Error(err))
	c.emit(ev)
}

// readPump reads server events until the channel fails
func (c *Connection) readPump(gen uint64, conn *websocket.Conn, done chan struct{}) {
	var err error
	defer func() {
		c.lost(gen, conn, err)
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var data []byte
		_, data, err = conn.ReadMessage()
		if err != nil {
			return
		}

		var env protocol.Envelope
		if jerr := json.Unmarshal(data, &env); jerr != nil {
			c.logger.Warn("failed to parse server event", zap.Error(jerr))
			continue
		}

		select {
		case c.events <- Event{Kind: EventMessage, Envelope: &env}:
		case <-done:
			err = errors.New("connection closed")
			return
		}
	}
}

// writePump writes queued envelopes and keeps the channel alive with pings
func (c *Connection) writePump(conn *websocket.Conn, send <-chan *protocol.Envelope, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case env := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				c.logger.Warn("failed to write event", zap.String("event", string(env.Event)), zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}

// liveURL converts the server address to the websocket endpoint
func liveURL(serverAddr, token string) (string, error) {
	u, err := parseServerAddr(serverAddr)
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

// baseURL converts the server address to the REST base URL
func baseURL(serverAddr string) (string, error) {
	u, err := parseServerAddr(serverAddr)
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = ""
	u.RawQuery = ""
	return strings.TrimSuffix(u.String(), "/"), nil
}

func parseServerAddr(serverAddr string) (*url.URL, error) {
	if serverAddr == "" {
		return nil, errors.New("server address is empty")
	}
	if !strings.Contains(serverAddr, "://") {
		serverAddr = "http://" + serverAddr
	}
	u, err := url.Parse(serverAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid server address: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server address %q", serverAddr)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u, nil
}
