package metrics

import (
	"context"
	"time"

	"github.com/gigmarket/chat-service/internal/model"
	"github.com/gigmarket/chat-service/internal/registry/store"
	"github.com/gigmarket/chat-service/internal/security"
	"github.com/google/uuid"
)

// Wrap returns a ChatStore that records StoreLatency for every operation.
func Wrap(inner store.ChatStore) store.ChatStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.ChatStore
}

func observe(op string, start time.Time) {
	security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) UpsertUser(ctx context.Context, user model.User) error {
	defer observe("upsert_user", time.Now())
	return m.inner.UpsertUser(ctx, user)
}

func (m *metricsStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	defer observe("get_user", time.Now())
	return m.inner.GetUser(ctx, userID)
}

func (m *metricsStore) GetUsers(ctx context.Context, userIDs []string) (map[string]model.User, error) {
	defer observe("get_users", time.Now())
	return m.inner.GetUsers(ctx, userIDs)
}

func (m *metricsStore) CreateConversation(ctx context.Context, conv *model.Conversation, participants []model.Participant) error {
	defer observe("create_conversation", time.Now())
	return m.inner.CreateConversation(ctx, conv, participants)
}

func (m *metricsStore) GetConversation(ctx context.Context, conversationID uuid.UUID) (*model.Conversation, error) {
	defer observe("get_conversation", time.Now())
	return m.inner.GetConversation(ctx, conversationID)
}

func (m *metricsStore) FindConversationByDedupKey(ctx context.Context, key string) (*model.Conversation, error) {
	defer observe("find_conversation_by_dedup_key", time.Now())
	return m.inner.FindConversationByDedupKey(ctx, key)
}

func (m *metricsStore) FindProjectConversation(ctx context.Context, projectID string, userID string) (*model.Conversation, error) {
	defer observe("find_project_conversation", time.Now())
	return m.inner.FindProjectConversation(ctx, projectID, userID)
}

func (m *metricsStore) FindDirectConversation(ctx context.Context, userA string, userB string) (*model.Conversation, error) {
	defer observe("find_direct_conversation", time.Now())
	return m.inner.FindDirectConversation(ctx, userA, userB)
}

func (m *metricsStore) ListConversations(ctx context.Context, userID string, query store.ConversationQuery) ([]model.Conversation, *string, error) {
	defer observe("list_conversations", time.Now())
	return m.inner.ListConversations(ctx, userID, query)
}

func (m *metricsStore) UpdateConversation(ctx context.Context, conversationID uuid.UUID, update store.ConversationUpdate) (*model.Conversation, error) {
	defer observe("update_conversation", time.Now())
	return m.inner.UpdateConversation(ctx, conversationID, update)
}

func (m *metricsStore) ListParticipants(ctx context.Context, conversationID uuid.UUID) ([]model.Participant, error) {
	defer observe("list_participants", time.Now())
	return m.inner.ListParticipants(ctx, conversationID)
}

func (m *metricsStore) GetParticipant(ctx context.Context, conversationID uuid.UUID, userID string) (*model.Participant, error) {
	defer observe("get_participant", time.Now())
	return m.inner.GetParticipant(ctx, conversationID, userID)
}

func (m *metricsStore) IsParticipant(ctx context.Context, conversationID uuid.UUID, userID string) (bool, error) {
	defer observe("is_participant", time.Now())
	return m.inner.IsParticipant(ctx, conversationID, userID)
}

func (m *metricsStore) AddParticipants(ctx context.Context, participants []model.Participant) (int, error) {
	defer observe("add_participants", time.Now())
	return m.inner.AddParticipants(ctx, participants)
}

func (m *metricsStore) SetMutedUntil(ctx context.Context, conversationID uuid.UUID, userID string, until *time.Time) (*model.Participant, error) {
	defer observe("set_muted_until", time.Now())
	return m.inner.SetMutedUntil(ctx, conversationID, userID, until)
}

func (m *metricsStore) GetSettings(ctx context.Context, conversationID uuid.UUID) (*model.ConversationSettings, error) {
	defer observe("get_settings", time.Now())
	return m.inner.GetSettings(ctx, conversationID)
}

func (m *metricsStore) UpdateSettings(ctx context.Context, settings model.ConversationSettings) (*model.ConversationSettings, error) {
	defer observe("update_settings", time.Now())
	return m.inner.UpdateSettings(ctx, settings)
}

func (m *metricsStore) CreateMessage(ctx context.Context, msg store.NewMessage) error {
	defer observe("create_message", time.Now())
	return m.inner.CreateMessage(ctx, msg)
}

func (m *metricsStore) GetMessage(ctx context.Context, messageID uuid.UUID) (*model.Message, error) {
	defer observe("get_message", time.Now())
	return m.inner.GetMessage(ctx, messageID)
}

func (m *metricsStore) GetMessages(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID]model.Message, error) {
	defer observe("get_messages", time.Now())
	return m.inner.GetMessages(ctx, messageIDs)
}

func (m *metricsStore) ListMessages(ctx context.Context, conversationID uuid.UUID, afterCursor *string, limit int) ([]model.Message, *string, error) {
	defer observe("list_messages", time.Now())
	return m.inner.ListMessages(ctx, conversationID, afterCursor, limit)
}

func (m *metricsStore) ListMentions(ctx context.Context, messageIDs []uuid.UUID) ([]model.MessageMention, error) {
	defer observe("list_mentions", time.Now())
	return m.inner.ListMentions(ctx, messageIDs)
}

func (m *metricsStore) ListDeliveries(ctx context.Context, messageID uuid.UUID) ([]model.MessageDelivery, error) {
	defer observe("list_deliveries", time.Now())
	return m.inner.ListDeliveries(ctx, messageID)
}

func (m *metricsStore) MarkRead(ctx context.Context, messageID uuid.UUID, userID string, at time.Time) (*model.MessageRead, error) {
	defer observe("mark_read", time.Now())
	return m.inner.MarkRead(ctx, messageID, userID, at)
}

func (m *metricsStore) ListReads(ctx context.Context, messageID uuid.UUID) ([]model.MessageRead, error) {
	defer observe("list_reads", time.Now())
	return m.inner.ListReads(ctx, messageID)
}

func (m *metricsStore) ToggleReaction(ctx context.Context, messageID uuid.UUID, userID string, emoji string, at time.Time) (bool, error) {
	defer observe("toggle_reaction", time.Now())
	return m.inner.ToggleReaction(ctx, messageID, userID, emoji, at)
}

func (m *metricsStore) ListReactions(ctx context.Context, messageID uuid.UUID) ([]model.MessageReaction, error) {
	defer observe("list_reactions", time.Now())
	return m.inner.ListReactions(ctx, messageID)
}

func (m *metricsStore) CreateNotifications(ctx context.Context, notifications []model.Notification) error {
	defer observe("create_notifications", time.Now())
	return m.inner.CreateNotifications(ctx, notifications)
}

func (m *metricsStore) ClaimPendingNotifications(ctx context.Context, limit int) ([]model.Notification, error) {
	defer observe("claim_pending_notifications", time.Now())
	return m.inner.ClaimPendingNotifications(ctx, limit)
}

func (m *metricsStore) MarkNotificationDispatched(ctx context.Context, notificationID uuid.UUID, at time.Time) error {
	defer observe("mark_notification_dispatched", time.Now())
	return m.inner.MarkNotificationDispatched(ctx, notificationID, at)
}

func (m *metricsStore) FailNotification(ctx context.Context, notificationID uuid.UUID, errMsg string, retryDelay time.Duration) error {
	defer observe("fail_notification", time.Now())
	return m.inner.FailNotification(ctx, notificationID, errMsg, retryDelay)
}
