package broadcast

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ChannelKind is the scope a channel fans out to.
type ChannelKind string

const (
	ChannelKindConversation ChannelKind = "conversation"
	ChannelKindUser         ChannelKind = "user"
)

// ChannelID names a fan-out channel. Construct it with ConversationChannel or UserChannel.
type ChannelID struct {
	Kind ChannelKind
	ID   string
}

// ConversationChannel is joined by participants that opened the conversation.
func ConversationChannel(conversationID uuid.UUID) ChannelID {
	return ChannelID{Kind: ChannelKindConversation, ID: conversationID.String()}
}

// UserChannel is the personal channel every connection of a user is bound to.
func UserChannel(userID string) ChannelID {
	return ChannelID{Kind: ChannelKindUser, ID: userID}
}

func (c ChannelID) String() string {
	return string(c.Kind) + ":" + c.ID
}

// ParseChannelID is the inverse of ChannelID.String.
func ParseChannelID(s string) (ChannelID, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return ChannelID{}, fmt.Errorf("invalid channel %q", s)
	}
	switch ChannelKind(kind) {
	case ChannelKindConversation:
		if _, err := uuid.Parse(id); err != nil {
			return ChannelID{}, fmt.Errorf("invalid conversation channel %q: %w", s, err)
		}
	case ChannelKindUser:
	default:
		return ChannelID{}, fmt.Errorf("unknown channel kind %q", kind)
	}
	return ChannelID{Kind: ChannelKind(kind), ID: id}, nil
}

func (c ChannelID) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ChannelID) UnmarshalText(b []byte) error {
	parsed, err := ParseChannelID(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
