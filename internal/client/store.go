package client

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/huddle-chat/huddle/internal/models"
)

// HistoryFetcher loads a team's recent messages
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, teamID uuid.UUID) ([]*models.Message, error)
}

// MessageStore keeps each open team's messages ordered by creation time.
// Stored messages are never mutated in place; updates swap in a copy.
type MessageStore struct {
	fetcher HistoryFetcher

	mu       sync.RWMutex
	messages map[uuid.UUID][]*models.Message
	subs     []chan uuid.UUID
}

// NewMessageStore creates a store that seeds from fetcher
func NewMessageStore(fetcher HistoryFetcher) *MessageStore {
	return &MessageStore{
		fetcher:  fetcher,
		messages: make(map[uuid.UUID][]*models.Message),
	}
}

// Seed loads the team's history. Live messages already received for the
// team that the history does not contain are kept.
func (s *MessageStore) Seed(ctx context.Context, teamID uuid.UUID) error {
	history, err := s.fetcher.FetchHistory(ctx, teamID)
	if err != nil {
		return err
	}

	seq := make([]*models.Message, 0, len(history))
	seen := make(map[uuid.UUID]bool, len(history))
	for _, msg := range history {
		if msg == nil || seen[msg.ID] {
			continue
		}
		seen[msg.ID] = true
		seq = append(seq, msg)
	}

	s.mu.Lock()
	for _, msg := range s.messages[teamID] {
		if !seen[msg.ID] {
			seq = append(seq, msg)
		}
	}
	sortByCreated(seq)
	s.messages[teamID] = seq
	s.mu.Unlock()

	s.notify(teamID)
	return nil
}

// OnBroadcast inserts a live message. A message already present is
// replaced rather than duplicated.
func (s *MessageStore) OnBroadcast(msg *models.Message) {
	if msg == nil {
		return
	}

	s.mu.Lock()
	seq := s.messages[msg.TeamID]
	if i := indexOf(seq, msg.ID); i >= 0 {
		seq[i] = msg
	} else {
		seq = append(seq, msg)
	}
	sortByCreated(seq)
	s.messages[msg.TeamID] = seq
	s.mu.Unlock()

	s.notify(msg.TeamID)
}

// ApplyReactions replaces a message's reactions with the server's list
func (s *MessageStore) ApplyReactions(teamID, messageID uuid.UUID, reactions []models.Reaction) bool {
	s.mu.Lock()
	seq := s.messages[teamID]
	i := indexOf(seq, messageID)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	updated := *seq[i]
	updated.Reactions = append(make([]models.Reaction, 0, len(reactions)), reactions...)
	seq[i] = &updated
	s.mu.Unlock()

	s.notify(teamID)
	return true
}

// Messages returns a snapshot of the team's ordered messages
func (s *MessageStore) Messages(teamID uuid.UUID) []*models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages[teamID])
}

// Message returns one message by ID
func (s *MessageStore) Message(teamID, messageID uuid.UUID) (*models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seq := s.messages[teamID]
	if i := indexOf(seq, messageID); i >= 0 {
		return seq[i], true
	}
	return nil, false
}

// Forget drops everything held for the team
func (s *MessageStore) Forget(teamID uuid.UUID) {
	s.mu.Lock()
	delete(s.messages, teamID)
	s.mu.Unlock()
	s.notify(teamID)
}

// Subscribe returns a channel that receives a team ID whenever that
// team's messages change. Slow subscribers miss notifications.
func (s *MessageStore) Subscribe() <-chan uuid.UUID {
	ch := make(chan uuid.UUID, 16)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

func (s *MessageStore) notify(teamID uuid.UUID) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- teamID:
		default:
		}
	}
}

func indexOf(seq []*models.Message, id uuid.UUID) int {
	return slices.IndexFunc(seq, func(m *models.Message) bool { return m.ID == id })
}

// sortByCreated orders by creation time; equal times keep arrival order
func sortByCreated(seq []*models.Message) {
	slices.SortStableFunc(seq, func(a, b *models.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}
