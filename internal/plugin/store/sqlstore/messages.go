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

func (s *Store) CreateMessage(ctx context.Context, msg registrystore.NewMessage) error {
	m := msg.Message
	if m == nil {
		return &registrystore.ValidationError{Field: "message", Message: "message is required"}
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.Must(uuid.NewV7())
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Attachments == nil {
		m.Attachments = []model.FileDescriptor{}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		if len(msg.Mentions) > 0 {
			for i := range msg.Mentions {
				msg.Mentions[i].MessageID = m.ID
				msg.Mentions[i].CreatedAt = m.CreatedAt
			}
			if err := tx.Create(&msg.Mentions).Error; err != nil {
				return fmt.Errorf("insert mentions: %w", err)
			}
		}

		res := tx.Model(&model.Conversation{}).Where("id = ?", m.ConversationID).Updates(map[string]interface{}{
			"last_message_at":      m.CreatedAt,
			"last_message_preview": msg.Preview,
			"updated_at":           m.CreatedAt,
		})
		if res.Error != nil {
			return fmt.Errorf("update conversation summary: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return &registrystore.NotFoundError{Resource: "conversation", ID: m.ConversationID.String()}
		}

		if len(msg.Recipients) > 0 {
			deliveries := make([]model.MessageDelivery, 0, len(msg.Recipients))
			for _, userID := range msg.Recipients {
				if userID == m.SenderID {
					continue
				}
				deliveries = append(deliveries, model.MessageDelivery{
					MessageID: m.ID,
					UserID:    userID,
					Status:    model.DeliveryStatusSent,
					CreatedAt: m.CreatedAt,
				})
			}
			if len(deliveries) > 0 {
				if err := tx.Create(&deliveries).Error; err != nil {
					return fmt.Errorf("insert deliveries: %w", err)
				}
			}
		}
		return nil
	})
}

func (s *Store) GetMessage(ctx context.Context, messageID uuid.UUID) (*model.Message, error) {
	var msgs []model.Message
	if err := s.db.WithContext(ctx).Where("id = ?", messageID).Limit(1).Find(&msgs).Error; err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, &registrystore.NotFoundError{Resource: "message", ID: messageID.String()}
	}
	return &msgs[0], nil
}

func (s *Store) GetMessages(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID]model.Message, error) {
	result := make(map[uuid.UUID]model.Message, len(messageIDs))
	if len(messageIDs) == 0 {
		return result, nil
	}
	var msgs []model.Message
	if err := s.db.WithContext(ctx).Where("id IN ?", messageIDs).Find(&msgs).Error; err != nil {
		return nil, err
	}
	for _, m := range msgs {
		result[m.ID] = m
	}
	return result, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID uuid.UUID, afterCursor *string, limit int) ([]model.Message, *string, error) {
	if limit <= 0 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	if afterCursor != nil && *afterCursor != "" {
		cursorID, err := uuid.Parse(*afterCursor)
		if err != nil {
			return nil, nil, &registrystore.ValidationError{Field: "afterCursor", Message: "invalid cursor"}
		}
		anchor, err := s.GetMessage(ctx, cursorID)
		if err != nil {
			return nil, nil, err
		}
		if anchor.ConversationID != conversationID {
			return nil, nil, &registrystore.ValidationError{Field: "afterCursor", Message: "cursor belongs to another conversation"}
		}
		q = q.Where("(created_at > ? OR (created_at = ? AND id > ?))", anchor.CreatedAt, anchor.CreatedAt, anchor.ID)
	}

	var msgs []model.Message
	if err := q.Order("created_at ASC, id ASC").Limit(limit + 1).Find(&msgs).Error; err != nil {
		return nil, nil, err
	}
	var next *string
	if len(msgs) > limit {
		msgs = msgs[:limit]
		cursor := msgs[len(msgs)-1].ID.String()
		next = &cursor
	}
	return msgs, next, nil
}

func (s *Store) ListMentions(ctx context.Context, messageIDs []uuid.UUID) ([]model.MessageMention, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	var mentions []model.MessageMention
	err := s.db.WithContext(ctx).
		Where("message_id IN ?", messageIDs).
		Order("created_at ASC, user_id ASC").
		Find(&mentions).Error
	return mentions, err
}

func (s *Store) ListDeliveries(ctx context.Context, messageID uuid.UUID) ([]model.MessageDelivery, error) {
	var deliveries []model.MessageDelivery
	err := s.db.WithContext(ctx).Where("message_id = ?", messageID).Order("user_id ASC").Find(&deliveries).Error
	return deliveries, err
}

func (s *Store) MarkRead(ctx context.Context, messageID uuid.UUID, userID string, at time.Time) (*model.MessageRead, error) {
	read := model.MessageRead{MessageID: messageID, UserID: userID, ReadAt: at}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"read_at"}),
		}).Create(&read).Error
		if err != nil {
			return fmt.Errorf("upsert read receipt: %w", err)
		}
		err = tx.Model(&model.MessageDelivery{}).
			Where("message_id = ? AND user_id = ? AND status = ?", messageID, userID, model.DeliveryStatusSent).
			Updates(map[string]interface{}{
				"status":       model.DeliveryStatusDelivered,
				"delivered_at": at,
			}).Error
		if err != nil {
			return fmt.Errorf("mark delivered: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &read, nil
}

func (s *Store) ListReads(ctx context.Context, messageID uuid.UUID) ([]model.MessageRead, error) {
	var reads []model.MessageRead
	err := s.db.WithContext(ctx).Where("message_id = ?", messageID).Order("read_at ASC, user_id ASC").Find(&reads).Error
	return reads, err
}

func (s *Store) ToggleReaction(ctx context.Context, messageID uuid.UUID, userID string, emoji string, at time.Time) (bool, error) {
	added := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
			Delete(&model.MessageReaction{})
		if res.Error != nil {
			return fmt.Errorf("delete reaction: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			return nil
		}
		reaction := model.MessageReaction{MessageID: messageID, UserID: userID, Emoji: emoji, CreatedAt: at}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&reaction).Error; err != nil {
			return fmt.Errorf("insert reaction: %w", err)
		}
		added = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

func (s *Store) ListReactions(ctx context.Context, messageID uuid.UUID) ([]model.MessageReaction, error) {
	var reactions []model.MessageReaction
	err := s.db.WithContext(ctx).Where("message_id = ?", messageID).Order("created_at ASC, user_id ASC").Find(&reactions).Error
	return reactions, err
}
