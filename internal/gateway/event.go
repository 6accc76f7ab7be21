package gateway

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Inbound event names.
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
)

// Outbound event names.
const (
	EventUserJoined             = "user_joined"
	EventUserLeft               = "user_left"
	EventUserTyping             = "user_typing"
	EventUserStoppedTyping      = "user_stopped_typing"
	EventNewMessage             = "new_message"
	EventMessageReactionAdded   = "message_reaction_added"
	EventMessageReactionRemoved = "message_reaction_removed"
	EventMessageRead            = "message_read"
	EventMessageMention         = "message_mention"
	EventError                  = "error"
)

// Frame is the wire envelope in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ConversationRef is the payload of every inbound event.
type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}

// PresenceEvent is sent for joins, leaves and typing changes.
type PresenceEvent struct {
	ConversationID uuid.UUID `json:"conversationId"`
	UserID         string    `json:"userId"`
}

// ErrorEvent is sent only to the connection whose frame failed.
type ErrorEvent struct {
	Message        string `json:"message"`
	Event          string `json:"event,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

func encodeFrame(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}
