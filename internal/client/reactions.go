package client

import (
	"context"

	"github.com/google/uuid"
	"github.com/huddle-chat/huddle/internal/models"
	"github.com/huddle-chat/huddle/internal/protocol"
)

type reactionToggler interface {
	ToggleReaction(ctx context.Context, teamID, messageID uuid.UUID, emoji string) ([]models.Reaction, error)
}

// Reactions toggles reactions through the API and keeps the store's
// reaction lists equal to the server's.
type Reactions struct {
	api   reactionToggler
	store *MessageStore
}

// NewReactions creates a reaction aggregator over store
func NewReactions(api reactionToggler, store *MessageStore) *Reactions {
	return &Reactions{api: api, store: store}
}

// Toggle adds the caller's emoji reaction, or removes it if present. The
// store only changes once the server answers.
func (r *Reactions) Toggle(ctx context.Context, teamID, messageID uuid.UUID, emoji string) ([]models.ReactionGroup, error) {
	reactions, err := r.api.ToggleReaction(ctx, teamID, messageID, emoji)
	if err != nil {
		return nil, err
	}
	r.store.ApplyReactions(teamID, messageID, reactions)
	return models.GroupReactions(reactions), nil
}

// OnReactionUpdated applies a reaction-updated broadcast
func (r *Reactions) OnReactionUpdated(p protocol.ReactionUpdatedPayload) bool {
	return r.store.ApplyReactions(p.TeamID, p.MessageID, p.Reactions)
}

// Groups returns the message's reactions grouped by emoji
func (r *Reactions) Groups(teamID, messageID uuid.UUID) []models.ReactionGroup {
	msg, ok := r.store.Message(teamID, messageID)
	if !ok {
		return []models.ReactionGroup{}
	}
	return models.GroupReactions(msg.Reactions)
}
