package models

import (
	"github.com/google/uuid"
)

// Reaction is a single user's emoji reaction on a message.
// A user holds at most one reaction per (message, emoji).
type Reaction struct {
	MessageID uuid.UUID `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	Emoji     string    `json:"emoji"`
}

// ReactionGroup is the display-time grouping of reactions sharing an emoji
type ReactionGroup struct {
	Emoji string      `json:"emoji"`
	Count int         `json:"count"`
	Users []uuid.UUID `json:"users"`
}

// HasReaction reports whether the user holds the emoji on the message
func HasReaction(reactions []Reaction, userID uuid.UUID, emoji string) bool {
	for _, r := range reactions {
		if r.UserID == userID && r.Emoji == emoji {
			return true
		}
	}
	return false
}

// ToggleReaction removes the user's emoji reaction if present and adds it
// otherwise. The input slice is not modified.
func ToggleReaction(reactions []Reaction, messageID, userID uuid.UUID, emoji string) ([]Reaction, bool) {
	out := make([]Reaction, 0, len(reactions)+1)
	removed := false
	for _, r := range reactions {
		if r.UserID == userID && r.Emoji == emoji {
			removed = true
			continue
		}
		out = append(out, r)
	}
	if removed {
		return out, false
	}
	return append(out, Reaction{MessageID: messageID, UserID: userID, Emoji: emoji}), true
}

// GroupReactions groups reactions by emoji in order of first appearance
func GroupReactions(reactions []Reaction) []ReactionGroup {
	groups := make([]ReactionGroup, 0)
	index := make(map[string]int)
	for _, r := range reactions {
		i, ok := index[r.Emoji]
		if !ok {
			i = len(groups)
			index[r.Emoji] = i
			groups = append(groups, ReactionGroup{Emoji: r.Emoji, Users: []uuid.UUID{}})
		}
		groups[i].Count++
		groups[i].Users = append(groups[i].Users, r.UserID)
	}
	return groups
}

// TypingSignal marks a user as currently typing in a team room. It is never
// persisted.
type TypingSignal struct {
	UserID   uuid.UUID `json:"user_id"`
	UserName string    `json:"user_name"`
	TeamID   uuid.UUID `json:"team_id"`
}
