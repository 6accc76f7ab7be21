package chat

import (
	"context"
	"time"

	"github.com/gigmarket/chat-service/internal/gateway"
	"github.com/gigmarket/chat-service/internal/model"
	"github.com/gigmarket/chat-service/internal/registry/broadcast"
	"github.com/google/uuid"
)

// ReadEvent is broadcast to the conversation channel when a participant reads a message.
type ReadEvent struct {
	ConversationID uuid.UUID `json:"conversationId"`
	MessageID      uuid.UUID `json:"messageId"`
	UserID         string    `json:"userId"`
	ReadAt         time.Time `json:"readAt"`
}

// Receipts is the delivery and read state of one message.
type Receipts struct {
	MessageID  uuid.UUID               `json:"messageId"`
	Deliveries []model.MessageDelivery `json:"deliveries"`
	Reads      []model.MessageRead     `json:"reads"`
}

// MarkRead records that userID read the message. Repeat calls only refresh readAt.
// The reader's delivery row, if still SENT, becomes DELIVERED in the same write.
func (s *Service) MarkRead(ctx context.Context, messageID uuid.UUID, userID string) (*model.MessageRead, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.requireParticipant(ctx, msg.ConversationID, userID); err != nil {
		return nil, err
	}
	read, err := s.store.MarkRead(ctx, messageID, userID, s.now())
	if err != nil {
		return nil, err
	}
	s.publish(ctx, broadcast.ConversationChannel(msg.ConversationID), gateway.EventMessageRead, ReadEvent{
		ConversationID: msg.ConversationID,
		MessageID:      messageID,
		UserID:         userID,
		ReadAt:         read.ReadAt,
	})
	return read, nil
}

// Receipts lists the deliveries and reads of a message to a participant.
func (s *Service) Receipts(ctx context.Context, messageID uuid.UUID, userID string) (*Receipts, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.requireParticipant(ctx, msg.ConversationID, userID); err != nil {
		return nil, err
	}
	deliveries, err := s.store.ListDeliveries(ctx, messageID)
	if err != nil {
		return nil, err
	}
	reads, err := s.store.ListReads(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if deliveries == nil {
		deliveries = []model.MessageDelivery{}
	}
	if reads == nil {
		reads = []model.MessageRead{}
	}
	return &Receipts{MessageID: messageID, Deliveries: deliveries, Reads: reads}, nil
}
