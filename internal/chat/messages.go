package chat

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/gigmarket/chat-service/internal/gateway"
	"github.com/gigmarket/chat-service/internal/model"
	"github.com/gigmarket/chat-service/internal/registry/broadcast"
	registrystore "github.com/gigmarket/chat-service/internal/registry/store"
	"github.com/gigmarket/chat-service/internal/security"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const attachmentPreview = "[attachment]"

// SendMessageRequest describes a send call.
type SendMessageRequest struct {
	ConversationID uuid.UUID
	SenderID       string
	Content        string
	Type           model.MessageType
	Attachments    []model.FileDescriptor
	ReplyToID      *uuid.UUID
	ThreadID       *uuid.UUID
	MentionIDs     []string
	Priority       model.Priority
}

// UserSummary is the public profile embedded in hydrated messages.
type UserSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Role        string `json:"role,omitempty"`
}

// MessageRef is a weak reference to another message, resolved for display.
type MessageRef struct {
	ID       uuid.UUID `json:"id"`
	SenderID string    `json:"senderId"`
	Preview  string    `json:"preview"`
}

// MessageView is a message hydrated with its sender, mentions and reply target.
type MessageView struct {
	model.Message
	Sender   UserSummary `json:"sender"`
	Mentions []string    `json:"mentions"`
	ReplyTo  *MessageRef `json:"replyTo,omitempty"`
}

// MentionEvent is delivered to a mentioned user's personal channel.
type MentionEvent struct {
	ConversationID uuid.UUID    `json:"conversationId"`
	MessageID      uuid.UUID    `json:"messageId"`
	MentionedBy    string       `json:"mentionedBy"`
	Message        *MessageView `json:"message"`
}

// Send persists a message with its mentions, conversation summary and delivery rows,
// then requests notifications and broadcasts it. Only persistence failures are
// returned.
func (s *Service) Send(ctx context.Context, req SendMessageRequest) (*MessageView, error) {
	if req.Type == "" {
		req.Type = model.MessageTypeText
		if strings.TrimSpace(req.Content) == "" && len(req.Attachments) > 0 {
			req.Type = model.MessageTypeFile
		}
	}
	if !req.Type.Valid() {
		return nil, &registrystore.ValidationError{Field: "type", Message: fmt.Sprintf("unknown message type %q", req.Type)}
	}
	if req.Priority == "" {
		req.Priority = model.PriorityNormal
	}
	if !req.Priority.Valid() {
		return nil, &registrystore.ValidationError{Field: "priority", Message: fmt.Sprintf("unknown priority %q", req.Priority)}
	}
	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 {
		return nil, &registrystore.ValidationError{Field: "content", Message: "message must have content or attachments"}
	}
	for i, a := range req.Attachments {
		if strings.TrimSpace(a.URL) == "" {
			return nil, &registrystore.ValidationError{Field: fmt.Sprintf("attachments[%d].url", i), Message: "attachment url is required"}
		}
	}

	conv, err := s.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	participants, err := s.store.ListParticipants(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	memberIDs := userIDs(participants)
	if !contains(memberIDs, req.SenderID) {
		return nil, &registrystore.ForbiddenError{Reason: "not a participant of this conversation"}
	}
	s.cacheParticipants(ctx, conv.ID, memberIDs)

	if len(req.Attachments) > 0 {
		settings, err := s.store.GetSettings(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		if !settings.AllowFileSharing {
			return nil, &registrystore.ValidationError{Field: "attachments", Message: "file sharing is disabled for this conversation"}
		}
	}

	var replyTo *model.Message
	if req.ReplyToID != nil {
		if replyTo, err = s.sameConversationMessage(ctx, *req.ReplyToID, conv.ID); err != nil {
			return nil, err
		}
	}
	if req.ThreadID != nil {
		if _, err := s.sameConversationMessage(ctx, *req.ThreadID, conv.ID); err != nil {
			return nil, err
		}
	}

	mentions := resolveMentions(req.MentionIDs, req.SenderID, memberIDs)
	recipients := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
		if id != req.SenderID {
			recipients = append(recipients, id)
		}
	}

	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()),
		ConversationID: conv.ID,
		SenderID:       req.SenderID,
		Content:        req.Content,
		Type:           req.Type,
		Attachments:    datatypes.JSONSlice[model.FileDescriptor](append([]model.FileDescriptor{}, req.Attachments...)),
		ReplyToID:      req.ReplyToID,
		ThreadID:       req.ThreadID,
		Priority:       req.Priority,
		CreatedAt:      s.now(),
	}
	mentionRows := make([]model.MessageMention, len(mentions))
	for i, userID := range mentions {
		mentionRows[i] = model.MessageMention{UserID: userID}
	}
	preview := s.preview(msg.Content)
	if err := s.store.CreateMessage(ctx, registrystore.NewMessage{
		Message:    msg,
		Mentions:   mentionRows,
		Recipients: recipients,
		Preview:    preview,
	}); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	if security.MessagesSentTotal != nil {
		security.MessagesSentTotal.Inc()
	}

	users, err := s.store.GetUsers(ctx, []string{req.SenderID})
	if err != nil {
		log.Warn("Sender profile lookup failed", "userId", req.SenderID, "err", err)
	}
	view := &MessageView{
		Message:  *msg,
		Sender:   summary(req.SenderID, users),
		Mentions: mentions,
		ReplyTo:  s.ref(replyTo),
	}

	s.requestNotifications(ctx, conv, participants, view, preview)
	s.fanOut(ctx, recipients, view)
	return view, nil
}

func (s *Service) sameConversationMessage(ctx context.Context, messageID uuid.UUID, conversationID uuid.UUID) (*model.Message, error) {
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.ConversationID != conversationID {
		return nil, &registrystore.NotFoundError{Resource: "message", ID: messageID.String()}
	}
	return m, nil
}

// resolveMentions keeps the first occurrence of each mentioned participant other
// than the sender.
func resolveMentions(ids []string, senderID string, participants []string) []string {
	seen := map[string]bool{senderID: true}
	mentions := []string{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if !contains(participants, id) {
			log.Debug("Dropping mention of non-participant", "userId", id)
			continue
		}
		mentions = append(mentions, id)
	}
	return mentions
}

func (s *Service) preview(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return attachmentPreview
	}
	if utf8.RuneCountInString(content) <= s.previewLength {
		return content
	}
	return string([]rune(content)[:s.previewLength])
}

func (s *Service) ref(m *model.Message) *MessageRef {
	if m == nil {
		return nil
	}
	return &MessageRef{ID: m.ID, SenderID: m.SenderID, Preview: s.preview(m.Content)}
}

func summary(userID string, users map[string]model.User) UserSummary {
	if u, ok := users[userID]; ok {
		return UserSummary{ID: u.ID, DisplayName: u.DisplayName, Role: u.Role}
	}
	return UserSummary{ID: userID}
}

func (s *Service) requestNotifications(ctx context.Context, conv *model.Conversation, participants []model.Participant, view *MessageView, preview string) {
	if s.notifier == nil {
		return
	}
	title := conv.Title
	if title == "" {
		title = view.Sender.DisplayName
	}
	if title == "" {
		title = view.SenderID
	}
	payload := model.NotificationPayload{
		Title:      title,
		Body:       preview,
		SenderID:   view.SenderID,
		SenderName: view.Sender.DisplayName,
	}
	now := s.now()
	var notifications []model.Notification
	for _, p := range participants {
		if p.UserID == view.SenderID {
			continue
		}
		if p.MutedAt(now) {
			continue
		}
		kind := model.NotificationKindMessage
		if contains(view.Mentions, p.UserID) {
			kind = model.NotificationKindMention
		}
		notifications = append(notifications, model.Notification{
			UserID:         p.UserID,
			Kind:           kind,
			ConversationID: conv.ID,
			MessageID:      view.ID,
			Payload:        datatypes.NewJSONType(payload),
		})
	}
	if len(notifications) == 0 {
		return
	}
	if err := s.notifier.Request(ctx, notifications); err != nil {
		log.Error("Failed to request notifications", "messageId", view.ID, "count", len(notifications), "err", err)
	}
}

func (s *Service) fanOut(ctx context.Context, recipients []string, view *MessageView) {
	s.publish(ctx, broadcast.ConversationChannel(view.ConversationID), gateway.EventNewMessage, view)
	for _, userID := range recipients {
		s.publish(ctx, broadcast.UserChannel(userID), gateway.EventNewMessage, view)
	}
	for _, userID := range view.Mentions {
		s.publish(ctx, broadcast.UserChannel(userID), gateway.EventMessageMention, MentionEvent{
			ConversationID: view.ConversationID,
			MessageID:      view.ID,
			MentionedBy:    view.SenderID,
			Message:        view,
		})
	}
}

// History returns messages in ascending creation order to a participant.
func (s *Service) History(ctx context.Context, conversationID uuid.UUID, userID string, afterCursor *string, limit int) ([]MessageView, *string, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, nil, err
	}
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	msgs, cursor, err := s.store.ListMessages(ctx, conversationID, afterCursor, limit)
	if err != nil {
		return nil, nil, err
	}
	views, err := s.hydrate(ctx, msgs)
	if err != nil {
		return nil, nil, err
	}
	return views, cursor, nil
}

func (s *Service) hydrate(ctx context.Context, msgs []model.Message) ([]MessageView, error) {
	views := make([]MessageView, len(msgs))
	if len(msgs) == 0 {
		return views, nil
	}
	ids := make([]uuid.UUID, len(msgs))
	senderSet := map[string]bool{}
	var senders []string
	var replyIDs []uuid.UUID
	for i, m := range msgs {
		ids[i] = m.ID
		if !senderSet[m.SenderID] {
			senderSet[m.SenderID] = true
			senders = append(senders, m.SenderID)
		}
		if m.ReplyToID != nil {
			replyIDs = append(replyIDs, *m.ReplyToID)
		}
	}

	users, err := s.store.GetUsers(ctx, senders)
	if err != nil {
		return nil, err
	}
	mentions, err := s.store.ListMentions(ctx, ids)
	if err != nil {
		return nil, err
	}
	byMessage := map[uuid.UUID][]string{}
	for _, m := range mentions {
		byMessage[m.MessageID] = append(byMessage[m.MessageID], m.UserID)
	}
	replies, err := s.store.GetMessages(ctx, replyIDs)
	if err != nil {
		return nil, err
	}

	for i, m := range msgs {
		view := MessageView{Message: m, Sender: summary(m.SenderID, users), Mentions: byMessage[m.ID]}
		if view.Mentions == nil {
			view.Mentions = []string{}
		}
		if m.ReplyToID != nil {
			if target, ok := replies[*m.ReplyToID]; ok {
				view.ReplyTo = s.ref(&target)
			}
		}
		views[i] = view
	}
	return views, nil
}
