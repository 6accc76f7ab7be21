package chat

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/gigmarket/chat-service/internal/model"
	registrystore "github.com/gigmarket/chat-service/internal/registry/store"
	"github.com/google/uuid"
)

const maxTitleLength = 500

// CreateConversationRequest describes a createOrGet call.
type CreateConversationRequest struct {
	Type           model.ConversationType
	InitiatorID    string
	ParticipantIDs []string
	ProjectID      *string
	Title          string
	Priority       model.Priority
}

// ConversationDetail is a conversation together with its participants.
type ConversationDetail struct {
	model.Conversation
	Participants []model.Participant `json:"participants"`
}

// SettingsUpdate changes conversation policy flags. Nil fields are left unchanged.
type SettingsUpdate struct {
	AllowFileSharing *bool `json:"allowFileSharing"`
	AllowReactions   *bool `json:"allowReactions"`
}

// CreateOrGet returns the existing DIRECT or PROJECT conversation matching req, or
// creates one. created reports whether a new conversation row was inserted.
func (s *Service) CreateOrGet(ctx context.Context, req CreateConversationRequest) (conv *model.Conversation, created bool, err error) {
	initiator := strings.TrimSpace(req.InitiatorID)
	if initiator == "" {
		return nil, false, &registrystore.ValidationError{Field: "initiatorId", Message: "initiator is required"}
	}
	if !req.Type.Valid() {
		return nil, false, &registrystore.ValidationError{Field: "type", Message: fmt.Sprintf("unknown conversation type %q", req.Type)}
	}
	if req.Priority == "" {
		req.Priority = model.PriorityNormal
	}
	if !req.Priority.Valid() {
		return nil, false, &registrystore.ValidationError{Field: "priority", Message: fmt.Sprintf("unknown priority %q", req.Priority)}
	}
	if utf8.RuneCountInString(req.Title) > maxTitleLength {
		return nil, false, &registrystore.ValidationError{Field: "title", Message: "title exceeds maximum length"}
	}
	others := normalizeParticipants(req.ParticipantIDs, initiator)

	switch req.Type {
	case model.ConversationTypeDirect:
		return s.createOrGetDirect(ctx, req, initiator, others)
	case model.ConversationTypeProject:
		return s.createOrGetProject(ctx, req, initiator, others)
	default:
		conv, err := s.createConversation(ctx, req, initiator, others, nil)
		if err != nil {
			return nil, false, err
		}
		return conv, true, nil
	}
}

func (s *Service) createOrGetDirect(ctx context.Context, req CreateConversationRequest, initiator string, others []string) (*model.Conversation, bool, error) {
	if req.ProjectID != nil {
		return nil, false, &registrystore.ValidationError{Field: "projectId", Message: "direct conversations cannot reference a project"}
	}
	if len(others) != 1 {
		msg := "a direct conversation needs exactly one other participant"
		if len(others) == 0 && contains(req.ParticipantIDs, initiator) {
			msg = "cannot start a direct conversation with yourself"
		}
		return nil, false, &registrystore.ValidationError{Field: "participantIds", Message: msg}
	}
	other := others[0]

	existing, err := s.store.FindDirectConversation(ctx, initiator, other)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	key := directKey(initiator, other)
	conv, err := s.createConversation(ctx, req, initiator, others, &key)
	var conflict *registrystore.ConflictError
	if errors.As(err, &conflict) {
		existing, ferr := s.store.FindConversationByDedupKey(ctx, key)
		if ferr != nil {
			return nil, false, ferr
		}
		if existing == nil {
			return nil, false, err
		}
		log.Debug("Direct conversation created concurrently", "conversationId", existing.ID)
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

func (s *Service) createOrGetProject(ctx context.Context, req CreateConversationRequest, initiator string, others []string) (*model.Conversation, bool, error) {
	if req.ProjectID == nil || strings.TrimSpace(*req.ProjectID) == "" {
		return nil, false, &registrystore.ValidationError{Field: "projectId", Message: "project conversations require a projectId"}
	}
	projectID := strings.TrimSpace(*req.ProjectID)
	req.ProjectID = &projectID

	existing, err := s.store.FindProjectConversation(ctx, projectID, initiator)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		if err := s.repairMembership(ctx, existing.ID, append([]string{initiator}, others...)); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	key := projectKey(projectID, initiator)
	conv, err := s.createConversation(ctx, req, initiator, others, &key)
	var conflict *registrystore.ConflictError
	if errors.As(err, &conflict) {
		existing, ferr := s.store.FindConversationByDedupKey(ctx, key)
		if ferr != nil {
			return nil, false, ferr
		}
		if existing == nil {
			return nil, false, err
		}
		if err := s.repairMembership(ctx, existing.ID, append([]string{initiator}, others...)); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

// repairMembership adds every required user that is not yet a participant in one batch.
func (s *Service) repairMembership(ctx context.Context, conversationID uuid.UUID, required []string) error {
	current, err := s.store.ListParticipants(ctx, conversationID)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(current))
	for _, p := range current {
		have[p.UserID] = true
	}
	var missing []model.Participant
	for _, userID := range required {
		if have[userID] {
			continue
		}
		have[userID] = true
		missing = append(missing, model.Participant{ConversationID: conversationID, UserID: userID, Role: model.RoleMember})
	}
	if len(missing) == 0 {
		return nil
	}
	added, err := s.store.AddParticipants(ctx, missing)
	if err != nil {
		return err
	}
	s.forgetParticipants(ctx, conversationID)
	log.Info("Repaired conversation membership", "conversationId", conversationID, "added", added)
	return nil
}

func (s *Service) createConversation(ctx context.Context, req CreateConversationRequest, initiator string, others []string, dedupKey *string) (*model.Conversation, error) {
	conv := &model.Conversation{
		ID:        uuid.New(),
		Type:      req.Type,
		ProjectID: req.ProjectID,
		Title:     req.Title,
		Priority:  req.Priority,
		DedupKey:  dedupKey,
		CreatedAt: s.now(),
	}
	participants := make([]model.Participant, 0, len(others)+1)
	participants = append(participants, model.Participant{UserID: initiator, Role: model.RoleOwner})
	for _, userID := range others {
		participants = append(participants, model.Participant{UserID: userID, Role: model.RoleMember})
	}
	if err := s.store.CreateConversation(ctx, conv, participants); err != nil {
		return nil, err
	}
	s.cacheParticipants(ctx, conv.ID, userIDs(participants))
	log.Info("Created conversation", "conversationId", conv.ID, "type", conv.Type, "participants", len(participants))
	return conv, nil
}

// GetConversation returns the conversation and its participants to a participant.
func (s *Service) GetConversation(ctx context.Context, conversationID uuid.UUID, userID string) (*ConversationDetail, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	participants, err := s.store.ListParticipants(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !contains(userIDs(participants), userID) {
		return nil, &registrystore.ForbiddenError{Reason: "not a participant of this conversation"}
	}
	return &ConversationDetail{Conversation: *conv, Participants: participants}, nil
}

// ListConversations lists the caller's conversations, most recent activity first.
func (s *Service) ListConversations(ctx context.Context, userID string, query registrystore.ConversationQuery) ([]model.Conversation, *string, error) {
	if query.Limit > 200 {
		query.Limit = 200
	}
	return s.store.ListConversations(ctx, userID, query)
}

// UpdateConversation changes title, archived flag or priority. Requires ADMIN or OWNER.
func (s *Service) UpdateConversation(ctx context.Context, conversationID uuid.UUID, userID string, update registrystore.ConversationUpdate) (*model.Conversation, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	if _, err := s.requireRole(ctx, conversationID, userID, model.RoleAdmin); err != nil {
		return nil, err
	}
	if update.Title != nil && utf8.RuneCountInString(*update.Title) > maxTitleLength {
		return nil, &registrystore.ValidationError{Field: "title", Message: "title exceeds maximum length"}
	}
	if update.Priority != nil && !update.Priority.Valid() {
		return nil, &registrystore.ValidationError{Field: "priority", Message: fmt.Sprintf("unknown priority %q", *update.Priority)}
	}
	return s.store.UpdateConversation(ctx, conversationID, update)
}

// ListParticipants returns the participant rows to a participant.
func (s *Service) ListParticipants(ctx context.Context, conversationID uuid.UUID, userID string) ([]model.Participant, error) {
	detail, err := s.GetConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	return detail.Participants, nil
}

// Mute suppresses notifications for the caller until the given time. A nil or past
// time unmutes.
func (s *Service) Mute(ctx context.Context, conversationID uuid.UUID, userID string, until *time.Time) (*model.Participant, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	if until != nil {
		u := until.UTC()
		until = &u
	}
	p, err := s.store.SetMutedUntil(ctx, conversationID, userID, until)
	var notFound *registrystore.NotFoundError
	if errors.As(err, &notFound) {
		return nil, &registrystore.ForbiddenError{Reason: "not a participant of this conversation"}
	}
	return p, err
}

// GetSettings returns the conversation's policy flags to a participant.
func (s *Service) GetSettings(ctx context.Context, conversationID uuid.UUID, userID string) (*model.ConversationSettings, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return s.store.GetSettings(ctx, conversationID)
}

// UpdateSettings changes policy flags. Requires ADMIN or OWNER.
func (s *Service) UpdateSettings(ctx context.Context, conversationID uuid.UUID, userID string, update SettingsUpdate) (*model.ConversationSettings, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	if _, err := s.requireRole(ctx, conversationID, userID, model.RoleAdmin); err != nil {
		return nil, err
	}
	current, err := s.store.GetSettings(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	next := *current
	if update.AllowFileSharing != nil {
		next.AllowFileSharing = *update.AllowFileSharing
	}
	if update.AllowReactions != nil {
		next.AllowReactions = *update.AllowReactions
	}
	return s.store.UpdateSettings(ctx, next)
}

// normalizeParticipants trims, deduplicates and drops the initiator and blanks.
func normalizeParticipants(ids []string, initiator string) []string {
	seen := map[string]bool{initiator: true}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func directKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return "direct:" + url.QueryEscape(pair[0]) + ":" + url.QueryEscape(pair[1])
}

func projectKey(projectID, initiator string) string {
	return "project:" + url.QueryEscape(projectID) + ":" + url.QueryEscape(initiator)
}
