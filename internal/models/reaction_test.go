package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToggleReactionAddsThenRemoves(t *testing.T) {
	msgID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	start := []Reaction{{MessageID: msgID, UserID: bob, Emoji: "👍"}}

	added, ok := ToggleReaction(start, msgID, alice, "👍")
	require.True(t, ok)
	require.Len(t, added, 2)
	assert.Len(t, start, 1, "input must not be modified")

	removed, ok := ToggleReaction(added, msgID, alice, "👍")
	assert.False(t, ok)
	assert.Equal(t, GroupReactions(start), GroupReactions(removed))
}

func TestToggleReactionKeepsOtherEmoji(t *testing.T) {
	msgID := uuid.New()
	alice := uuid.New()

	reactions, _ := ToggleReaction(nil, msgID, alice, "👍")
	reactions, _ = ToggleReaction(reactions, msgID, alice, "🎉")
	require.Len(t, reactions, 2)

	reactions, added := ToggleReaction(reactions, msgID, alice, "👍")
	assert.False(t, added)
	require.Len(t, reactions, 1)
	assert.Equal(t, "🎉", reactions[0].Emoji)
	assert.True(t, HasReaction(reactions, alice, "🎉"))
	assert.False(t, HasReaction(reactions, alice, "👍"))
}

func TestGroupReactionsOrderAndCounts(t *testing.T) {
	msgID := uuid.New()
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	groups := GroupReactions([]Reaction{
		{MessageID: msgID, UserID: a, Emoji: "🎉"},
		{MessageID: msgID, UserID: b, Emoji: "👍"},
		{MessageID: msgID, UserID: c, Emoji: "🎉"},
	})

	require.Len(t, groups, 2)
	assert.Equal(t, "🎉", groups[0].Emoji)
	assert.Equal(t, 2, groups[0].Count)
	assert.Equal(t, []uuid.UUID{a, c}, groups[0].Users)
	assert.Equal(t, "👍", groups[1].Emoji)
	assert.Equal(t, 1, groups[1].Count)
}

func TestGroupReactionsEmpty(t *testing.T) {
	groups := GroupReactions(nil)
	assert.NotNil(t, groups)
	assert.Empty(t, groups)
}
