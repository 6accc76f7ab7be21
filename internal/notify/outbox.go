// Package notify moves notification requests through the persistent outbox: the
// Outbox records them when a message is sent and the Dispatcher hands them to the
// configured sink in the background.
package notify

import (
	"context"
	"fmt"

	"github.com/gigmarket/chat-service/internal/model"
	registrystore "github.com/gigmarket/chat-service/internal/registry/store"
	"github.com/gigmarket/chat-service/internal/security"
)

// Outbox records notification requests for later dispatch.
type Outbox struct {
	store registrystore.ChatStore
}

// NewOutbox creates an Outbox writing to store.
func NewOutbox(store registrystore.ChatStore) *Outbox {
	return &Outbox{store: store}
}

// Request persists notifications as pending outbox rows.
func (o *Outbox) Request(ctx context.Context, notifications []model.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	if err := o.store.CreateNotifications(ctx, notifications); err != nil {
		return fmt.Errorf("record notifications: %w", err)
	}
	for range notifications {
		security.ObserveNotification("requested")
	}
	return nil
}
