package store

import (
	"context"
	"fmt"
	"time"

	"github.com/gigmarket/chat-service/internal/model"
	"github.com/google/uuid"
)

// ConversationQuery holds parameters for listing a user's conversations.
type ConversationQuery struct {
	IncludeArchived bool
	OnlyArchived    bool
	AfterCursor     *string
	Limit           int
}

// ConversationUpdate defines mutable conversation fields. Nil fields are left unchanged.
type ConversationUpdate struct {
	Title    *string
	Archived *bool
	Priority *model.Priority
}

// NewMessage is everything persisted by a single send.
type NewMessage struct {
	Message  *model.Message
	Mentions []model.MessageMention
	// Recipients receive one SENT delivery row each. The sender is never a recipient.
	Recipients []string
	Preview    string
}

// ChatStore defines the persistent store behind the chat engine.
type ChatStore interface {
	// Users (read-mostly mirror of the external auth store)
	UpsertUser(ctx context.Context, user model.User) error
	GetUser(ctx context.Context, userID string) (*model.User, error)
	GetUsers(ctx context.Context, userIDs []string) (map[string]model.User, error)

	// Conversations
	// CreateConversation inserts the conversation and all participants in one transaction.
	// A DedupKey collision returns a ConflictError.
	CreateConversation(ctx context.Context, conv *model.Conversation, participants []model.Participant) error
	GetConversation(ctx context.Context, conversationID uuid.UUID) (*model.Conversation, error)
	// FindConversationByDedupKey returns nil when no conversation carries the key.
	FindConversationByDedupKey(ctx context.Context, key string) (*model.Conversation, error)
	// FindProjectConversation returns the oldest PROJECT conversation for projectID in which
	// userID participates, or nil.
	FindProjectConversation(ctx context.Context, projectID string, userID string) (*model.Conversation, error)
	// FindDirectConversation returns the DIRECT conversation, without a project, whose
	// participant set is exactly {userA, userB}, or nil.
	FindDirectConversation(ctx context.Context, userA string, userB string) (*model.Conversation, error)
	ListConversations(ctx context.Context, userID string, query ConversationQuery) ([]model.Conversation, *string, error)
	UpdateConversation(ctx context.Context, conversationID uuid.UUID, update ConversationUpdate) (*model.Conversation, error)

	// Participants
	ListParticipants(ctx context.Context, conversationID uuid.UUID) ([]model.Participant, error)
	GetParticipant(ctx context.Context, conversationID uuid.UUID, userID string) (*model.Participant, error)
	IsParticipant(ctx context.Context, conversationID uuid.UUID, userID string) (bool, error)
	// AddParticipants batch-inserts participants, skipping rows that already exist.
	// Returns the number of rows inserted.
	AddParticipants(ctx context.Context, participants []model.Participant) (int, error)
	SetMutedUntil(ctx context.Context, conversationID uuid.UUID, userID string, until *time.Time) (*model.Participant, error)

	// Settings
	// GetSettings returns model.DefaultSettings when the conversation has no settings row.
	GetSettings(ctx context.Context, conversationID uuid.UUID) (*model.ConversationSettings, error)
	UpdateSettings(ctx context.Context, settings model.ConversationSettings) (*model.ConversationSettings, error)

	// Messages
	// CreateMessage persists the message, its mentions, the conversation summary and
	// the delivery rows in one transaction.
	CreateMessage(ctx context.Context, msg NewMessage) error
	GetMessage(ctx context.Context, messageID uuid.UUID) (*model.Message, error)
	GetMessages(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID]model.Message, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID, afterCursor *string, limit int) ([]model.Message, *string, error)
	ListMentions(ctx context.Context, messageIDs []uuid.UUID) ([]model.MessageMention, error)

	// Receipts
	ListDeliveries(ctx context.Context, messageID uuid.UUID) ([]model.MessageDelivery, error)
	// MarkRead upserts the read receipt and moves the reader's SENT delivery to DELIVERED.
	MarkRead(ctx context.Context, messageID uuid.UUID, userID string, at time.Time) (*model.MessageRead, error)
	ListReads(ctx context.Context, messageID uuid.UUID) ([]model.MessageRead, error)

	// Reactions
	// ToggleReaction deletes the exact triple when present, otherwise creates it.
	// Returns true when the reaction was added.
	ToggleReaction(ctx context.Context, messageID uuid.UUID, userID string, emoji string, at time.Time) (bool, error)
	ListReactions(ctx context.Context, messageID uuid.UUID) ([]model.MessageReaction, error)

	// Notification outbox
	CreateNotifications(ctx context.Context, notifications []model.Notification) error
	ClaimPendingNotifications(ctx context.Context, limit int) ([]model.Notification, error)
	MarkNotificationDispatched(ctx context.Context, notificationID uuid.UUID, at time.Time) error
	FailNotification(ctx context.Context, notificationID uuid.UUID, errMsg string, retryDelay time.Duration) error
}

// Loader creates a ChatStore from config.
type Loader func(ctx context.Context) (ChatStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
