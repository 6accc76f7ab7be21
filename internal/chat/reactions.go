package chat

import (
	"context"
	"strings"

	"github.com/gigmarket/chat-service/internal/gateway"
	"github.com/gigmarket/chat-service/internal/model"
	"github.com/gigmarket/chat-service/internal/registry/broadcast"
	registrystore "github.com/gigmarket/chat-service/internal/registry/store"
	"github.com/google/uuid"
)

const maxEmojiBytes = 32

// ReactionEvent is broadcast when a reaction is added or removed.
type ReactionEvent struct {
	ConversationID uuid.UUID `json:"conversationId"`
	MessageID      uuid.UUID `json:"messageId"`
	UserID         string    `json:"userId"`
	Emoji          string    `json:"emoji"`
}

// ToggleReaction removes the caller's emoji reaction if present, otherwise adds it.
// added reports which happened.
func (s *Service) ToggleReaction(ctx context.Context, messageID uuid.UUID, userID string, emoji string) (added bool, err error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return false, &registrystore.ValidationError{Field: "emoji", Message: "emoji is required"}
	}
	if len(emoji) > maxEmojiBytes {
		return false, &registrystore.ValidationError{Field: "emoji", Message: "emoji is too long"}
	}
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return false, err
	}
	if err := s.requireParticipant(ctx, msg.ConversationID, userID); err != nil {
		return false, err
	}
	settings, err := s.store.GetSettings(ctx, msg.ConversationID)
	if err != nil {
		return false, err
	}
	if !settings.AllowReactions {
		return false, &registrystore.ValidationError{Field: "emoji", Message: "reactions are disabled for this conversation"}
	}

	added, err = s.store.ToggleReaction(ctx, messageID, userID, emoji, s.now())
	if err != nil {
		return false, err
	}
	event := gateway.EventMessageReactionRemoved
	if added {
		event = gateway.EventMessageReactionAdded
	}
	s.publish(ctx, broadcast.ConversationChannel(msg.ConversationID), event, ReactionEvent{
		ConversationID: msg.ConversationID,
		MessageID:      messageID,
		UserID:         userID,
		Emoji:          emoji,
	})
	return added, nil
}

// ListReactions lists a message's reactions to a participant.
func (s *Service) ListReactions(ctx context.Context, messageID uuid.UUID, userID string) ([]model.MessageReaction, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.requireParticipant(ctx, msg.ConversationID, userID); err != nil {
		return nil, err
	}
	reactions, err := s.store.ListReactions(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if reactions == nil {
		reactions = []model.MessageReaction{}
	}
	return reactions, nil
}
