package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ConversationType determines how a conversation is deduplicated.
type ConversationType string

const (
	ConversationTypeDirect  ConversationType = "DIRECT"
	ConversationTypeProject ConversationType = "PROJECT"
	ConversationTypeGroup   ConversationType = "GROUP"
)

// Valid reports whether t is a known conversation type.
func (t ConversationType) Valid() bool {
	switch t {
	case ConversationTypeDirect, ConversationTypeProject, ConversationTypeGroup:
		return true
	}
	return false
}

// ParticipantRole is a user's role within a conversation.
type ParticipantRole string

const (
	RoleOwner  ParticipantRole = "OWNER"
	RoleAdmin  ParticipantRole = "ADMIN"
	RoleMember ParticipantRole = "MEMBER"
)

// IsAtLeast returns true if the role is at least the given role.
func (r ParticipantRole) IsAtLeast(role ParticipantRole) bool {
	return roleRank(r) >= roleRank(role)
}

func roleRank(role ParticipantRole) int {
	switch role {
	case RoleOwner:
		return 3
	case RoleAdmin:
		return 2
	case RoleMember:
		return 1
	default:
		return 0
	}
}

// MessageType classifies message content.
type MessageType string

const (
	MessageTypeText   MessageType = "TEXT"
	MessageTypeAction MessageType = "ACTION"
	MessageTypeSystem MessageType = "SYSTEM"
	MessageTypeFile   MessageType = "FILE"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeAction, MessageTypeSystem, MessageTypeFile:
		return true
	}
	return false
}

// Priority applies to both conversations and messages.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// DeliveryStatus tracks a message's progress towards a single recipient.
type DeliveryStatus string

const (
	DeliveryStatusSent      DeliveryStatus = "SENT"
	DeliveryStatusDelivered DeliveryStatus = "DELIVERED"
)

// NotificationKind distinguishes plain message notifications from mentions.
type NotificationKind string

const (
	NotificationKindMessage NotificationKind = "message"
	NotificationKindMention NotificationKind = "mention"
)

// User mirrors the identity fields the external auth store exposes.
type User struct {
	ID          string    `json:"id"          gorm:"primaryKey"`
	Role        string    `json:"role"        gorm:"not null;default:''"`
	DisplayName string    `json:"displayName" gorm:"not null;default:''"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (User) TableName() string { return "users" }

// Conversation is a scope with an ordered message history and a participant set.
type Conversation struct {
	ID                 uuid.UUID        `json:"id"                           gorm:"primaryKey;type:uuid"`
	Type               ConversationType `json:"type"                         gorm:"not null;index:idx_conversations_type_project,priority:1"`
	ProjectID          *string          `json:"projectId,omitempty"          gorm:"index:idx_conversations_type_project,priority:2"`
	Title              string           `json:"title"                        gorm:"not null;default:''"`
	LastMessageAt      *time.Time       `json:"lastMessageAt,omitempty"      gorm:"index"`
	LastMessagePreview string           `json:"lastMessagePreview,omitempty" gorm:"not null;default:''"`
	Archived           bool             `json:"archived"                     gorm:"not null;default:false"`
	Priority           Priority         `json:"priority"                     gorm:"not null;default:'NORMAL'"`
	// DedupKey is the normalized participant key for DIRECT and PROJECT conversations.
	DedupKey  *string   `json:"-"         gorm:"uniqueIndex"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null"`
}

func (Conversation) TableName() string { return "conversations" }

// Participant is a user's membership record in a conversation.
type Participant struct {
	ConversationID uuid.UUID       `json:"conversationId"       gorm:"primaryKey;type:uuid"`
	UserID         string          `json:"userId"               gorm:"primaryKey;index"`
	Role           ParticipantRole `json:"role"                 gorm:"not null"`
	MutedUntil     *time.Time      `json:"mutedUntil,omitempty"`
	JoinedAt       time.Time       `json:"joinedAt"             gorm:"not null"`
}

func (Participant) TableName() string { return "participants" }

// MutedAt reports whether notifications are suppressed at the given time.
func (p Participant) MutedAt(t time.Time) bool {
	return p.MutedUntil != nil && p.MutedUntil.After(t)
}

// FileDescriptor describes an attachment stored by the external file service.
type FileDescriptor struct {
	URL         string `json:"url"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// Message is immutable once created. ReplyToID and ThreadID are weak references.
type Message struct {
	ID             uuid.UUID                           `json:"id"                 gorm:"primaryKey;type:uuid"`
	ConversationID uuid.UUID                           `json:"conversationId"     gorm:"not null;type:uuid;index:idx_messages_history,priority:1"`
	SenderID       string                              `json:"senderId"           gorm:"not null"`
	Content        string                              `json:"content"            gorm:"not null;default:''"`
	Type           MessageType                         `json:"type"               gorm:"not null"`
	Attachments    datatypes.JSONSlice[FileDescriptor] `json:"attachments"`
	ReplyToID      *uuid.UUID                          `json:"replyToId,omitempty" gorm:"type:uuid"`
	ThreadID       *uuid.UUID                          `json:"threadId,omitempty"  gorm:"type:uuid;index"`
	Priority       Priority                            `json:"priority"           gorm:"not null"`
	CreatedAt      time.Time                           `json:"createdAt"          gorm:"not null;index:idx_messages_history,priority:2"`
}

func (Message) TableName() string { return "messages" }

// MessageMention tags a user within a message. Created at send time only.
type MessageMention struct {
	MessageID uuid.UUID `json:"messageId" gorm:"primaryKey;type:uuid"`
	UserID    string    `json:"userId"    gorm:"primaryKey"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null"`
}

func (MessageMention) TableName() string { return "message_mentions" }

// MessageDelivery tracks a message for one non-sender participant.
type MessageDelivery struct {
	MessageID   uuid.UUID      `json:"messageId"             gorm:"primaryKey;type:uuid"`
	UserID      string         `json:"userId"                gorm:"primaryKey"`
	Status      DeliveryStatus `json:"status"                gorm:"not null"`
	DeliveredAt *time.Time     `json:"deliveredAt,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"             gorm:"not null"`
}

func (MessageDelivery) TableName() string { return "message_deliveries" }

// MessageRead is a per-user read receipt. Repeat reads refresh ReadAt.
type MessageRead struct {
	MessageID uuid.UUID `json:"messageId" gorm:"primaryKey;type:uuid"`
	UserID    string    `json:"userId"    gorm:"primaryKey"`
	ReadAt    time.Time `json:"readAt"    gorm:"not null"`
}

func (MessageRead) TableName() string { return "message_reads" }

// MessageReaction is unique per (message, user, emoji).
type MessageReaction struct {
	MessageID uuid.UUID `json:"messageId" gorm:"primaryKey;type:uuid"`
	UserID    string    `json:"userId"    gorm:"primaryKey"`
	Emoji     string    `json:"emoji"     gorm:"primaryKey"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null"`
}

func (MessageReaction) TableName() string { return "message_reactions" }

// ConversationSettings holds per-conversation policy flags.
type ConversationSettings struct {
	ConversationID   uuid.UUID `json:"conversationId"   gorm:"primaryKey;type:uuid"`
	AllowFileSharing bool      `json:"allowFileSharing" gorm:"not null"`
	AllowReactions   bool      `json:"allowReactions"   gorm:"not null"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func (ConversationSettings) TableName() string { return "conversation_settings" }

// DefaultSettings returns the policy applied when a conversation has no settings row.
func DefaultSettings(conversationID uuid.UUID) ConversationSettings {
	return ConversationSettings{
		ConversationID:   conversationID,
		AllowFileSharing: true,
		AllowReactions:   true,
	}
}

// Notification is an outbox record handed to the external notification subsystem.
type Notification struct {
	ID             uuid.UUID                               `json:"id"                     gorm:"primaryKey;type:uuid"`
	UserID         string                                  `json:"userId"                 gorm:"not null;index"`
	Kind           NotificationKind                        `json:"kind"                   gorm:"not null"`
	ConversationID uuid.UUID                               `json:"conversationId"         gorm:"not null;type:uuid"`
	MessageID      uuid.UUID                               `json:"messageId"              gorm:"not null;type:uuid"`
	Payload        datatypes.JSONType[NotificationPayload] `json:"payload"`
	CreatedAt      time.Time                               `json:"createdAt"              gorm:"not null"`
	RetryAt        time.Time                               `json:"retryAt"                gorm:"not null;index:idx_notifications_pending,priority:2"`
	// DispatchedAt is set when the row leaves the outbox, delivered or abandoned.
	DispatchedAt   *time.Time                              `json:"dispatchedAt,omitempty" gorm:"index:idx_notifications_pending,priority:1"`
	RetryCount     int                                     `json:"retryCount"             gorm:"not null;default:0"`
	LastError      *string                                 `json:"lastError,omitempty"`
}

func (Notification) TableName() string { return "notifications" }

// NotificationPayload is the body delivered to push/email channels.
type NotificationPayload struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName,omitempty"`
}

// AllModels returns every persisted model, in migration order.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Conversation{},
		&Participant{},
		&ConversationSettings{},
		&Message{},
		&MessageMention{},
		&MessageDelivery{},
		&MessageRead{},
		&MessageReaction{},
		&Notification{},
	}
}
