package client

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/huddle-chat/huddle/internal/models"
	"github.com/huddle-chat/huddle/internal/protocol"
	"go.uber.org/zap"
)

// UpdateKind tags an Update published by a Session
type UpdateKind int

const (
	UpdateConnection UpdateKind = iota
	UpdateMessages
	UpdateTyping
	UpdateJoined
	UpdateNotice
)

// Update tells the UI what changed
type Update struct {
	Kind   UpdateKind
	TeamID uuid.UUID
	State  ConnectionState
	Notice string
	Err    error
}

// SessionConfig configures a Session
type SessionConfig struct {
	ServerAddr     string
	TypingInterval time.Duration
	RequestTimeout time.Duration
	HistoryLimit   int
}

// Session wires the client components together for one signed-in user.
// Live events are applied by a single loop started with Start.
type Session struct {
	Creds     *Credentials
	API       *API
	Conn      *Connection
	Rooms     *Rooms
	Store     *MessageStore
	Typing    *TypingTracker
	Reactions *Reactions
	Downloads *Downloader

	logger  *zap.Logger
	updates chan Update

	mu    sync.Mutex
	open  map[uuid.UUID]bool // teams opened by the UI
	stale map[uuid.UUID]bool // open teams that missed events while disconnected
}

// NewSession builds every component for the server in config
func NewSession(config SessionConfig, logger *zap.Logger) (*Session, error) {
	creds := &Credentials{}

	api, err := NewAPI(config.ServerAddr, creds, config.RequestTimeout)
	if err != nil {
		return nil, err
	}
	api.HistoryLimit = config.HistoryLimit

	downloads, err := NewDownloader(config.ServerAddr, creds, config.RequestTimeout, logger)
	if err != nil {
		return nil, err
	}

	conn := NewConnection(config.ServerAddr, logger)
	store := NewMessageStore(api)

	return &Session{
		Creds:     creds,
		API:       api,
		Conn:      conn,
		Rooms:     NewRooms(conn, logger),
		Store:     store,
		Typing:    NewTypingTracker(conn, config.TypingInterval, logger),
		Reactions: NewReactions(api, store),
		Downloads: downloads,
		logger:    logger,
		updates:   make(chan Update, 256),
		open:      make(map[uuid.UUID]bool),
		stale:     make(map[uuid.UUID]bool),
	}, nil
}

// Updates delivers UI notifications. Slow readers miss updates.
func (s *Session) Updates() <-chan Update {
	return s.updates
}

// Start runs the live event loop until ctx is done
func (s *Session) Start(ctx context.Context) {
	go s.run(ctx)
}

// Login signs in and stores the credential
func (s *Session) Login(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.API.Login(ctx, email, password)
	if err != nil {
		s.notify(err)
	}
	return user, err
}

// Resume signs in with a token saved by an earlier session
func (s *Session) Resume(ctx context.Context, token string) (*models.User, error) {
	return s.API.Resume(ctx, token)
}

// Connect opens the live channel with the stored credential
func (s *Session) Connect(ctx context.Context) error {
	return s.Conn.Connect(ctx, s.Creds.Token())
}

// OpenTeam joins the team's room and seeds its history
func (s *Session) OpenTeam(ctx context.Context, teamID uuid.UUID) error {
	if err := s.Rooms.Join(teamID); err != nil {
		s.notify(err)
		return err
	}

	s.mu.Lock()
	s.open[teamID] = true
	delete(s.stale, teamID)
	s.mu.Unlock()

	if err := s.Store.Seed(ctx, teamID); err != nil {
		s.notify(err)
		return err
	}
	return nil
}

// CloseTeam leaves the team's room and drops its local state. The live
// channel stays open.
func (s *Session) CloseTeam(teamID uuid.UUID) error {
	s.Typing.Flush(teamID)
	s.Typing.Clear(teamID)

	s.mu.Lock()
	delete(s.open, teamID)
	delete(s.stale, teamID)
	s.mu.Unlock()

	err := s.Rooms.Leave(teamID)
	s.Store.Forget(teamID)
	return err
}

// Input records a keystroke in the team's composer
func (s *Session) Input(teamID uuid.UUID) {
	if err := s.Typing.Input(teamID); err != nil {
		s.logger.Debug("typing not sent", zap.Error(err))
	}
}

// Send posts a text message. The message reaches the store only through the
// server's new-message broadcast.
func (s *Session) Send(ctx context.Context, teamID uuid.UUID, content string) error {
	s.Typing.Flush(teamID)

	if _, err := s.API.SendMessage(ctx, teamID, content); err != nil {
		sendErr := &SendError{TeamID: teamID, Err: err}
		s.notify(sendErr)
		return sendErr
	}
	return nil
}

// SendFile posts a message carrying the file at path
func (s *Session) SendFile(ctx context.Context, teamID uuid.UUID, caption, path string) error {
	s.Typing.Flush(teamID)

	f, err := os.Open(path)
	if err != nil {
		sendErr := &SendError{TeamID: teamID, Err: err}
		s.notify(sendErr)
		return sendErr
	}
	defer f.Close()

	if _, err := s.API.SendAttachment(ctx, teamID, caption, filepath.Base(path), f); err != nil {
		sendErr := &SendError{TeamID: teamID, Err: err}
		s.notify(sendErr)
		return sendErr
	}
	return nil
}

// ToggleReaction flips the caller's emoji on a message
func (s *Session) ToggleReaction(ctx context.Context, teamID, messageID uuid.UUID, emoji string) ([]models.ReactionGroup, error) {
	groups, err := s.Reactions.Toggle(ctx, teamID, messageID, emoji)
	if err != nil {
		s.notify(err)
		return nil, err
	}
	s.publish(Update{Kind: UpdateMessages, TeamID: teamID})
	return groups, nil
}

// Download fetches an attachment and saves it under dir
func (s *Session) Download(ctx context.Context, teamID, messageID uuid.UUID, index int, dir string) (string, error) {
	dl, err := s.Downloads.Download(ctx, teamID, messageID, index)
	if err != nil {
		s.notify(err)
		return "", err
	}
	path, err := dl.SaveTo(dir)
	if err != nil {
		s.notify(err)
		return "", err
	}
	return path, nil
}

// Close drops the live channel
func (s *Session) Close() {
	s.Conn.Disconnect()
}

func (s *Session) run(ctx context.Context) {
	for {
		select {
		case ev := <-s.Conn.Events():
			s.handle(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) handle(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventConnected:
		s.publish(Update{Kind: UpdateConnection, State: StateConnected})

	case EventDisconnected, EventErrored:
		s.Rooms.Reset()
		s.Typing.ClearAll()
		s.mu.Lock()
		for teamID := range s.open {
			s.stale[teamID] = true
		}
		s.mu.Unlock()

		state := StateDisconnected
		if ev.Kind == EventErrored {
			state = StateErrored
		}
		s.publish(Update{Kind: UpdateConnection, State: state})
		if ev.Err != nil {
			s.notify(ev.Err)
		}

	case EventMessage:
		s.dispatch(ctx, ev.Envelope)
	}
}

func (s *Session) dispatch(ctx context.Context, env *protocol.Envelope) {
	switch env.Event {
	case protocol.EventNewMessage:
		var msg models.Message
		if !s.decode(env, &msg) {
			return
		}
		s.Store.OnBroadcast(&msg)
		s.publish(Update{Kind: UpdateMessages, TeamID: msg.TeamID})

	case protocol.EventUserTyping:
		var p protocol.UserTypingPayload
		if !s.decode(env, &p) {
			return
		}
		s.Typing.OnUserTyping(p)
		s.publish(Update{Kind: UpdateTyping, TeamID: p.TeamID})

	case protocol.EventUserStopTyping:
		var p protocol.UserStopTypingPayload
		if !s.decode(env, &p) {
			return
		}
		s.Typing.OnUserStopTyping(p)
		s.publish(Update{Kind: UpdateTyping, TeamID: p.TeamID})

	case protocol.EventReactionUpdated:
		var p protocol.ReactionUpdatedPayload
		if !s.decode(env, &p) {
			return
		}
		if s.Reactions.OnReactionUpdated(p) {
			s.publish(Update{Kind: UpdateMessages, TeamID: p.TeamID})
		}

	case protocol.EventJoinedTeam:
		var p protocol.TeamPayload
		if !s.decode(env, &p) {
			return
		}
		s.Rooms.HandleJoined(p.TeamID)
		s.publish(Update{Kind: UpdateJoined, TeamID: p.TeamID})

		s.mu.Lock()
		reseed := s.stale[p.TeamID]
		delete(s.stale, p.TeamID)
		s.mu.Unlock()
		if reseed {
			go func() {
				if err := s.Store.Seed(ctx, p.TeamID); err != nil {
					s.logger.Warn("reseed after reconnect failed", zap.String("team_id", p.TeamID.String()), zap.Error(err))
				}
			}()
		}

	case protocol.EventLeftTeam:
		// local state was dropped by CloseTeam

	case protocol.EventError:
		var p protocol.ErrorPayload
		if !s.decode(env, &p) {
			return
		}
		if p.TeamID != nil {
			s.Rooms.HandleRejected(*p.TeamID)
		}
		s.logger.Warn("server error event", zap.Int("code", p.Code), zap.String("message", p.Message))
		s.publish(Update{Kind: UpdateNotice, Notice: p.Message, Err: &p})

	default:
		s.logger.Debug("unhandled server event", zap.String("event", string(env.Event)))
	}
}

func (s *Session) decode(env *protocol.Envelope, v interface{}) bool {
	if err := env.Decode(v); err != nil {
		s.logger.Warn("invalid server event", zap.String("event", string(env.Event)), zap.Error(err))
		return false
	}
	return true
}

func (s *Session) notify(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	s.publish(Update{Kind: UpdateNotice, Notice: UserMessage(err), Err: err})
}

func (s *Session) publish(u Update) {
	select {
	case s.updates <- u:
	default:
		s.logger.Debug("update dropped", zap.Int("kind", int(u.Kind)))
	}
}
