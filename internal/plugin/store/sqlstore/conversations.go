package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/gigmarket/chat-service/internal/model"
	registrystore "github.com/gigmarket/chat-service/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const activityExpr = "COALESCE(conversations.last_message_at, conversations.created_at)"

func (s *Store) CreateConversation(ctx context.Context, conv *model.Conversation, participants []model.Participant) error {
	now := time.Now().UTC()
	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = conv.CreatedAt
	if conv.Priority == "" {
		conv.Priority = model.PriorityNormal
	}
	for i := range participants {
		participants[i].ConversationID = conv.ID
		if participants[i].JoinedAt.IsZero() {
			participants[i].JoinedAt = now
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		if len(participants) > 0 {
			if err := tx.Create(&participants).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if s.uniqueViolation(err) {
		key := ""
		if conv.DedupKey != nil {
			key = *conv.DedupKey
		}
		return &registrystore.ConflictError{
			Message: "conversation already exists",
			Code:    "conversation_exists",
			Details: map[string]interface{}{"dedupKey": key},
		}
	}
	return err
}

func (s *Store) GetConversation(ctx context.Context, conversationID uuid.UUID) (*model.Conversation, error) {
	var convs []model.Conversation
	if err := s.db.WithContext(ctx).Where("id = ?", conversationID).Limit(1).Find(&convs).Error; err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return nil, &registrystore.NotFoundError{Resource: "conversation", ID: conversationID.String()}
	}
	return &convs[0], nil
}

func (s *Store) FindConversationByDedupKey(ctx context.Context, key string) (*model.Conversation, error) {
	var convs []model.Conversation
	if err := s.db.WithContext(ctx).Where("dedup_key = ?", key).Limit(1).Find(&convs).Error; err != nil {
		return nil, err
	}
	return first(convs), nil
}

func (s *Store) FindProjectConversation(ctx context.Context, projectID string, userID string) (*model.Conversation, error) {
	var convs []model.Conversation
	err := s.db.WithContext(ctx).
		Where("type = ? AND project_id = ?", model.ConversationTypeProject, projectID).
		Where("EXISTS (SELECT 1 FROM participants p WHERE p.conversation_id = conversations.id AND p.user_id = ?)", userID).
		Order("created_at ASC, id ASC").
		Limit(1).
		Find(&convs).Error
	if err != nil {
		return nil, err
	}
	return first(convs), nil
}

func (s *Store) FindDirectConversation(ctx context.Context, userA string, userB string) (*model.Conversation, error) {
	var convs []model.Conversation
	err := s.db.WithContext(ctx).
		Where("type = ? AND project_id IS NULL", model.ConversationTypeDirect).
		Where("EXISTS (SELECT 1 FROM participants p WHERE p.conversation_id = conversations.id AND p.user_id = ?)", userA).
		Where("EXISTS (SELECT 1 FROM participants p WHERE p.conversation_id = conversations.id AND p.user_id = ?)", userB).
		Where("(SELECT COUNT(*) FROM participants p WHERE p.conversation_id = conversations.id) = 2").
		Order("created_at ASC, id ASC").
		Limit(1).
		Find(&convs).Error
	if err != nil {
		return nil, err
	}
	return first(convs), nil
}

func (s *Store) ListConversations(ctx context.Context, userID string, query registrystore.ConversationQuery) ([]model.Conversation, *string, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 20
	}
	q := s.db.WithContext(ctx).
		Select("conversations.*").
		Joins("JOIN participants p ON p.conversation_id = conversations.id AND p.user_id = ?", userID)
	switch {
	case query.OnlyArchived:
		q = q.Where("conversations.archived = ?", true)
	case !query.IncludeArchived:
		q = q.Where("conversations.archived = ?", false)
	}
	if query.AfterCursor != nil && *query.AfterCursor != "" {
		cursorID, err := uuid.Parse(*query.AfterCursor)
		if err != nil {
			return nil, nil, &registrystore.ValidationError{Field: "afterCursor", Message: "invalid cursor"}
		}
		var anchor []model.Conversation
		if err := s.db.WithContext(ctx).Where("id = ?", cursorID).Limit(1).Find(&anchor).Error; err != nil {
			return nil, nil, err
		}
		if len(anchor) > 0 {
			at := anchor[0].CreatedAt
			if anchor[0].LastMessageAt != nil {
				at = *anchor[0].LastMessageAt
			}
			q = q.Where("("+activityExpr+" < ? OR ("+activityExpr+" = ? AND conversations.id < ?))", at, at, cursorID)
		}
	}

	var convs []model.Conversation
	if err := q.Order(activityExpr + " DESC, conversations.id DESC").Limit(limit + 1).Find(&convs).Error; err != nil {
		return nil, nil, err
	}
	var next *string
	if len(convs) > limit {
		convs = convs[:limit]
		cursor := convs[len(convs)-1].ID.String()
		next = &cursor
	}
	return convs, next, nil
}

func (s *Store) UpdateConversation(ctx context.Context, conversationID uuid.UUID, update registrystore.ConversationUpdate) (*model.Conversation, error) {
	updates := map[string]interface{}{"updated_at": time.Now().UTC()}
	if update.Title != nil {
		updates["title"] = *update.Title
	}
	if update.Archived != nil {
		updates["archived"] = *update.Archived
	}
	if update.Priority != nil {
		updates["priority"] = *update.Priority
	}
	res := s.db.WithContext(ctx).Model(&model.Conversation{}).Where("id = ?", conversationID).Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, &registrystore.NotFoundError{Resource: "conversation", ID: conversationID.String()}
	}
	return s.GetConversation(ctx, conversationID)
}

func (s *Store) ListParticipants(ctx context.Context, conversationID uuid.UUID) ([]model.Participant, error) {
	var participants []model.Participant
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("joined_at ASC, user_id ASC").
		Find(&participants).Error
	return participants, err
}

func (s *Store) GetParticipant(ctx context.Context, conversationID uuid.UUID, userID string) (*model.Participant, error) {
	var participants []model.Participant
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Limit(1).
		Find(&participants).Error
	if err != nil {
		return nil, err
	}
	if len(participants) == 0 {
		return nil, &registrystore.NotFoundError{Resource: "participant", ID: userID}
	}
	return &participants[0], nil
}

func (s *Store) IsParticipant(ctx context.Context, conversationID uuid.UUID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Participant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	return count > 0, err
}

func (s *Store) AddParticipants(ctx context.Context, participants []model.Participant) (int, error) {
	if len(participants) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	for i := range participants {
		if participants[i].JoinedAt.IsZero() {
			participants[i].JoinedAt = now
		}
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&participants)
	if res.Error != nil {
		return 0, fmt.Errorf("add participants: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *Store) SetMutedUntil(ctx context.Context, conversationID uuid.UUID, userID string, until *time.Time) (*model.Participant, error) {
	res := s.db.WithContext(ctx).Model(&model.Participant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Update("muted_until", until)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, &registrystore.NotFoundError{Resource: "participant", ID: userID}
	}
	return s.GetParticipant(ctx, conversationID, userID)
}

func (s *Store) GetSettings(ctx context.Context, conversationID uuid.UUID) (*model.ConversationSettings, error) {
	var settings []model.ConversationSettings
	if err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Limit(1).Find(&settings).Error; err != nil {
		return nil, err
	}
	if len(settings) == 0 {
		defaults := model.DefaultSettings(conversationID)
		return &defaults, nil
	}
	return &settings[0], nil
}

func (s *Store) UpdateSettings(ctx context.Context, settings model.ConversationSettings) (*model.ConversationSettings, error) {
	settings.UpdatedAt = time.Now().UTC()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"allow_file_sharing", "allow_reactions", "updated_at"}),
	}).Create(&settings).Error
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func first(convs []model.Conversation) *model.Conversation {
	if len(convs) == 0 {
		return nil
	}
	return &convs[0]
}
