package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/huddle-chat/huddle/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	history map[uuid.UUID][]*models.Message
	err     error
	calls   int
}

func (f *fakeFetcher) FetchHistory(ctx context.Context, teamID uuid.UUID) ([]*models.Message, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.history[teamID], nil
}

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testMessage(teamID uuid.UUID, offset time.Duration, content string) *models.Message {
	msg := models.NewMessage(teamID, uuid.New(), content)
	msg.CreatedAt = epoch.Add(offset)
	return msg
}

func contents(msgs []*models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestStoreOrdersBroadcastsByCreatedAt(t *testing.T) {
	teamID := uuid.New()
	a := testMessage(teamID, 1*time.Second, "a")
	b := testMessage(teamID, 2*time.Second, "b")
	c := testMessage(teamID, 3*time.Second, "c")

	orders := [][]*models.Message{
		{a, b, c},
		{c, b, a},
		{b, c, a},
		{c, a, b},
	}
	for _, order := range orders {
		store := NewMessageStore(&fakeFetcher{})
		for _, msg := range order {
			store.OnBroadcast(msg)
		}
		assert.Equal(t, []string{"a", "b", "c"}, contents(store.Messages(teamID)))
	}
}

func TestStoreEqualTimestampsKeepArrivalOrder(t *testing.T) {
	teamID := uuid.New()
	store := NewMessageStore(&fakeFetcher{})

	first := testMessage(teamID, 0, "first")
	second := testMessage(teamID, 0, "second")
	store.OnBroadcast(first)
	store.OnBroadcast(second)

	assert.Equal(t, []string{"first", "second"}, contents(store.Messages(teamID)))
}

func TestStoreBroadcastReplacesDuplicate(t *testing.T) {
	teamID := uuid.New()
	store := NewMessageStore(&fakeFetcher{})

	msg := testMessage(teamID, 0, "hello")
	store.OnBroadcast(msg)

	again := *msg
	again.Reactions = []models.Reaction{{MessageID: msg.ID, UserID: uuid.New(), Emoji: "👍"}}
	store.OnBroadcast(&again)

	got := store.Messages(teamID)
	require.Len(t, got, 1)
	assert.Len(t, got[0].Reactions, 1)
}

func TestStoreSeedMergesLiveMessages(t *testing.T) {
	teamID := uuid.New()
	old := testMessage(teamID, 1*time.Second, "old")
	both := testMessage(teamID, 2*time.Second, "both")
	live := testMessage(teamID, 3*time.Second, "live")

	fetcher := &fakeFetcher{history: map[uuid.UUID][]*models.Message{
		teamID: {old, both, both},
	}}
	store := NewMessageStore(fetcher)

	// broadcasts that raced the history fetch
	store.OnBroadcast(live)
	store.OnBroadcast(both)

	require.NoError(t, store.Seed(context.Background(), teamID))
	assert.Equal(t, []string{"old", "both", "live"}, contents(store.Messages(teamID)))
	assert.Equal(t, 1, fetcher.calls)
}

func TestStoreSeedErrorKeepsMessages(t *testing.T) {
	teamID := uuid.New()
	fetcher := &fakeFetcher{err: ErrNetwork}
	store := NewMessageStore(fetcher)
	store.OnBroadcast(testMessage(teamID, 0, "kept"))

	err := store.Seed(context.Background(), teamID)
	assert.True(t, errors.Is(err, ErrNetwork))
	assert.Equal(t, []string{"kept"}, contents(store.Messages(teamID)))
}

func TestStoreApplyReactionsSwapsCopy(t *testing.T) {
	teamID := uuid.New()
	store := NewMessageStore(&fakeFetcher{})
	msg := testMessage(teamID, 0, "hi")
	store.OnBroadcast(msg)

	snapshot := store.Messages(teamID)
	reactions := []models.Reaction{{MessageID: msg.ID, UserID: uuid.New(), Emoji: "🎉"}}
	assert.True(t, store.ApplyReactions(teamID, msg.ID, reactions))

	assert.Empty(t, snapshot[0].Reactions, "earlier snapshots are not mutated")
	got, ok := store.Message(teamID, msg.ID)
	require.True(t, ok)
	assert.Equal(t, reactions, got.Reactions)

	assert.False(t, store.ApplyReactions(teamID, uuid.New(), reactions))
}

func TestStoreTeamsAreIsolated(t *testing.T) {
	teamA, teamB := uuid.New(), uuid.New()
	store := NewMessageStore(&fakeFetcher{})
	store.OnBroadcast(testMessage(teamA, 0, "a"))
	store.OnBroadcast(testMessage(teamB, 0, "b"))

	assert.Equal(t, []string{"a"}, contents(store.Messages(teamA)))
	store.Forget(teamA)
	assert.Empty(t, store.Messages(teamA))
	assert.Equal(t, []string{"b"}, contents(store.Messages(teamB)))
}

func TestStoreSubscribe(t *testing.T) {
	teamID := uuid.New()
	store := NewMessageStore(&fakeFetcher{})
	ch := store.Subscribe()

	store.OnBroadcast(testMessage(teamID, 0, "x"))
	select {
	case got := <-ch:
		assert.Equal(t, teamID, got)
	default:
		t.Fatal("expected a notification")
	}

	// a full subscriber does not block writers
	for i := 0; i < 50; i++ {
		store.OnBroadcast(testMessage(teamID, time.Duration(i), "y"))
	}
}
