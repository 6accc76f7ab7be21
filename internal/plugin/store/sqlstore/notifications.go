package sqlstore

import (
	"context"
	"time"

	"github.com/gigmarket/chat-service/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// claimLease is how long a claimed notification stays invisible to other dispatchers.
const claimLease = 5 * time.Minute

func (s *Store) CreateNotifications(ctx context.Context, notifications []model.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range notifications {
		if notifications[i].ID == uuid.Nil {
			notifications[i].ID = uuid.New()
		}
		if notifications[i].CreatedAt.IsZero() {
			notifications[i].CreatedAt = now
		}
		if notifications[i].RetryAt.IsZero() {
			notifications[i].RetryAt = now
		}
	}
	return s.db.WithContext(ctx).Create(&notifications).Error
}

func (s *Store) ClaimPendingNotifications(ctx context.Context, limit int) ([]model.Notification, error) {
	if s.isPostgres() {
		var notifications []model.Notification
		err := s.db.WithContext(ctx).Raw(`
			WITH claimed AS (
				SELECT id
				FROM notifications
				WHERE dispatched_at IS NULL AND retry_at <= NOW()
				ORDER BY retry_at, created_at
				LIMIT ?
				FOR UPDATE SKIP LOCKED
			)
			UPDATE notifications n
			SET retry_at = NOW() + INTERVAL '5 minutes'
			FROM claimed
			WHERE n.id = claimed.id
			RETURNING n.*
		`, limit).
			Scan(&notifications).Error
		return notifications, err
	}

	// Dialects without SKIP LOCKED serialize the claim in a transaction.
	var notifications []model.Notification
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		if err := tx.Where("dispatched_at IS NULL AND retry_at <= ?", now).
			Order("retry_at ASC, created_at ASC").
			Limit(limit).
			Find(&notifications).Error; err != nil {
			return err
		}
		if len(notifications) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, len(notifications))
		for i := range notifications {
			ids[i] = notifications[i].ID
		}
		return tx.Model(&model.Notification{}).Where("id IN ?", ids).Update("retry_at", now.Add(claimLease)).Error
	})
	return notifications, err
}

func (s *Store) MarkNotificationDispatched(ctx context.Context, notificationID uuid.UUID, at time.Time) error {
	return s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ?", notificationID).
		Update("dispatched_at", at).Error
}

func (s *Store) FailNotification(ctx context.Context, notificationID uuid.UUID, errMsg string, retryDelay time.Duration) error {
	return s.db.WithContext(ctx).Model(&model.Notification{}).Where("id = ?", notificationID).Updates(map[string]interface{}{
		"retry_count": gorm.Expr("retry_count + 1"),
		"retry_at":    time.Now().UTC().Add(retryDelay),
		"last_error":  errMsg,
	}).Error
}
