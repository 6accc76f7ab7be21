// Package chat implements conversation lifecycle, message delivery, read tracking and
// reactions on top of a ChatStore, and fans resulting events out through a Broadcaster.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gigmarket/chat-service/internal/model"
	"github.com/gigmarket/chat-service/internal/plugin/cache/noop"
	"github.com/gigmarket/chat-service/internal/registry/broadcast"
	registrycache "github.com/gigmarket/chat-service/internal/registry/cache"
	registrystore "github.com/gigmarket/chat-service/internal/registry/store"
	"github.com/gigmarket/chat-service/internal/security"
	"github.com/google/uuid"
)

const defaultPreviewLength = 100

// Notifier accepts notification records for out-of-band delivery.
type Notifier interface {
	Request(ctx context.Context, notifications []model.Notification) error
}

// Options configures a Service.
type Options struct {
	Store       registrystore.ChatStore
	Broadcaster broadcast.Broadcaster
	// Notifier is optional; without one no notifications are requested.
	Notifier Notifier
	// Participants is optional; defaults to no caching.
	Participants  registrycache.ParticipantCache
	CacheTTL      time.Duration
	PreviewLength int
}

// Service is the single entry point for chat operations. It is shared by the REST
// routes and the websocket gateway.
type Service struct {
	store         registrystore.ChatStore
	broadcaster   broadcast.Broadcaster
	notifier      Notifier
	participants  registrycache.ParticipantCache
	cacheTTL      time.Duration
	previewLength int
	now           func() time.Time
}

// NewService creates a Service.
func NewService(opts Options) *Service {
	s := &Service{
		store:         opts.Store,
		broadcaster:   opts.Broadcaster,
		notifier:      opts.Notifier,
		participants:  opts.Participants,
		cacheTTL:      opts.CacheTTL,
		previewLength: opts.PreviewLength,
		now:           func() time.Time { return time.Now().UTC() },
	}
	if s.participants == nil {
		s.participants = noop.New()
	}
	if s.previewLength <= 0 {
		s.previewLength = defaultPreviewLength
	}
	return s
}

// participantIDs returns the participant user ids of a conversation, preferring the cache.
func (s *Service) participantIDs(ctx context.Context, conversationID uuid.UUID) ([]string, error) {
	if s.participants.Available() {
		ids, ok, err := s.participants.Get(ctx, conversationID)
		if err != nil {
			log.Warn("Participant cache read failed", "conversationId", conversationID, "err", err)
		} else if ok {
			return ids, nil
		}
	}
	participants, err := s.store.ListParticipants(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	ids := userIDs(participants)
	s.cacheParticipants(ctx, conversationID, ids)
	return ids, nil
}

func (s *Service) cacheParticipants(ctx context.Context, conversationID uuid.UUID, ids []string) {
	if !s.participants.Available() {
		return
	}
	if err := s.participants.Set(ctx, conversationID, ids, s.cacheTTL); err != nil {
		log.Warn("Participant cache write failed", "conversationId", conversationID, "err", err)
	}
}

func (s *Service) forgetParticipants(ctx context.Context, conversationID uuid.UUID) {
	if !s.participants.Available() {
		return
	}
	if err := s.participants.Remove(ctx, conversationID); err != nil {
		log.Warn("Participant cache invalidation failed", "conversationId", conversationID, "err", err)
	}
}

// isParticipant consults the cache first. Participants are never removed, so a cached
// hit is authoritative and a miss falls through to the store.
func (s *Service) isParticipant(ctx context.Context, conversationID uuid.UUID, userID string) (bool, error) {
	ids, err := s.participantIDs(ctx, conversationID)
	if err != nil {
		return false, err
	}
	if contains(ids, userID) {
		return true, nil
	}
	ok, err := s.store.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return false, err
	}
	if ok {
		s.forgetParticipants(ctx, conversationID)
	}
	return ok, nil
}

// requireParticipant returns a ForbiddenError unless userID participates in the
// conversation. The conversation must already be known to exist.
func (s *Service) requireParticipant(ctx context.Context, conversationID uuid.UUID, userID string) error {
	ok, err := s.isParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return &registrystore.ForbiddenError{Reason: "not a participant of this conversation"}
	}
	return nil
}

// requireRole loads the caller's participant row and checks it has at least role.
func (s *Service) requireRole(ctx context.Context, conversationID uuid.UUID, userID string, role model.ParticipantRole) (*model.Participant, error) {
	p, err := s.store.GetParticipant(ctx, conversationID, userID)
	if err != nil {
		var notFound *registrystore.NotFoundError
		if errors.As(err, &notFound) {
			return nil, &registrystore.ForbiddenError{Reason: "not a participant of this conversation"}
		}
		return nil, err
	}
	if !p.Role.IsAtLeast(role) {
		return nil, &registrystore.ForbiddenError{Reason: "requires " + string(role) + " role"}
	}
	return p, nil
}

// AuthorizeJoin checks that the conversation exists and userID may subscribe to it.
func (s *Service) AuthorizeJoin(ctx context.Context, conversationID uuid.UUID, userID string) error {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return err
	}
	return s.requireParticipant(ctx, conversationID, userID)
}

// publish sends one event. Failures are logged and swallowed.
func (s *Service) publish(ctx context.Context, ch broadcast.ChannelID, name string, data interface{}) {
	if s.broadcaster == nil {
		return
	}
	event, err := broadcast.NewEvent(ch, name, data)
	if err != nil {
		log.Error("Failed to build event", "event", name, "err", err)
		return
	}
	if err := s.broadcaster.Publish(ctx, event); err != nil {
		log.Warn("Broadcast failed", "event", name, "channel", ch, "err", err)
		security.ObserveBroadcast(name, "failed")
	}
}

func userIDs(participants []model.Participant) []string {
	ids := make([]string, len(participants))
	for i, p := range participants {
		ids[i] = p.UserID
	}
	return ids
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
