package chat_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gigmarket/chat-service/internal/chat"
	"github.com/gigmarket/chat-service/internal/gateway"
	"github.com/gigmarket/chat-service/internal/model"
	"github.com/gigmarket/chat-service/internal/plugin/cache/memory"
	"github.com/gigmarket/chat-service/internal/plugin/store/sqlstore"
	"github.com/gigmarket/chat-service/internal/registry/broadcast"
	registrystore "github.com/gigmarket/chat-service/internal/registry/store"
	"github.com/gigmarket/chat-service/internal/testutil/testdb"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []broadcast.Event
	err    error
}

func (r *recordingBroadcaster) Publish(_ context.Context, ev broadcast.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingBroadcaster) Close() error { return nil }

// on returns the names of events published to ch, in order.
func (r *recordingBroadcaster) on(ch broadcast.ChannelID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, ev := range r.events {
		if ev.Channel == ch {
			names = append(names, ev.Name)
		}
	}
	return names
}

func (r *recordingBroadcaster) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type recordingNotifier struct {
	notifications []model.Notification
	err           error
}

func (r *recordingNotifier) Request(_ context.Context, notifications []model.Notification) error {
	r.notifications = append(r.notifications, notifications...)
	return r.err
}

type fixture struct {
	store       *sqlstore.Store
	svc         *chat.Service
	broadcaster *recordingBroadcaster
	notifier    *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:       testdb.NewStore(t),
		broadcaster: &recordingBroadcaster{},
		notifier:    &recordingNotifier{},
	}
	f.svc = chat.NewService(chat.Options{
		Store:       f.store,
		Broadcaster: f.broadcaster,
		Notifier:    f.notifier,
	})
	return f
}

func (f *fixture) group(t *testing.T, owner string, members ...string) *model.Conversation {
	t.Helper()
	conv, created, err := f.svc.CreateOrGet(context.Background(), chat.CreateConversationRequest{
		Type:           model.ConversationTypeGroup,
		InitiatorID:    owner,
		ParticipantIDs: members,
		Title:          "Group",
	})
	require.NoError(t, err)
	require.True(t, created)
	return conv
}

func participantSet(t *testing.T, s registrystore.ChatStore, convID uuid.UUID) []string {
	t.Helper()
	participants, err := s.ListParticipants(context.Background(), convID)
	require.NoError(t, err)
	ids := make([]string, len(participants))
	for i, p := range participants {
		ids[i] = p.UserID
	}
	return ids
}

func ptr[T any](v T) *T { return &v }

func TestCreateOrGet_DirectIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := chat.CreateConversationRequest{Type: model.ConversationTypeDirect, InitiatorID: "alice", ParticipantIDs: []string{"bob"}}

	first, created, err := f.svc.CreateOrGet(ctx, req)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := f.svc.CreateOrGet(ctx, req)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	// Either side may initiate.
	third, _, err := f.svc.CreateOrGet(ctx, chat.CreateConversationRequest{Type: model.ConversationTypeDirect, InitiatorID: "bob", ParticipantIDs: []string{"alice", "bob"}})
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
	assert.ElementsMatch(t, []string{"alice", "bob"}, participantSet(t, f.store, first.ID))
}

func TestCreateOrGet_DirectFetchesOnConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// A concurrent creator committed the pair key before its participant rows were visible
	// to the exact-set search.
	racer := &model.Conversation{Type: model.ConversationTypeDirect, DedupKey: ptr("direct:alice:bob")}
	require.NoError(t, f.store.CreateConversation(ctx, racer, []model.Participant{{UserID: "alice", Role: model.RoleOwner}}))

	conv, created, err := f.svc.CreateOrGet(ctx, chat.CreateConversationRequest{Type: model.ConversationTypeDirect, InitiatorID: "bob", ParticipantIDs: []string{"alice"}})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, racer.ID, conv.ID)
}

func TestCreateOrGet_DirectValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := map[string]chat.CreateConversationRequest{
		"self":        {Type: model.ConversationTypeDirect, InitiatorID: "alice", ParticipantIDs: []string{"alice"}},
		"none":        {Type: model.ConversationTypeDirect, InitiatorID: "alice"},
		"three":       {Type: model.ConversationTypeDirect, InitiatorID: "alice", ParticipantIDs: []string{"bob", "carol"}},
		"project":     {Type: model.ConversationTypeDirect, InitiatorID: "alice", ParticipantIDs: []string{"bob"}, ProjectID: ptr("p1")},
		"no project":  {Type: model.ConversationTypeProject, InitiatorID: "alice", ParticipantIDs: []string{"bob"}},
		"bad type":    {Type: "CHANNEL", InitiatorID: "alice"},
		"no initiator": {Type: model.ConversationTypeGroup},
		"priority":    {Type: model.ConversationTypeGroup, InitiatorID: "alice", Priority: "EXTREME"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := f.svc.CreateOrGet(ctx, req)
			var validation *registrystore.ValidationError
			require.True(t, errors.As(err, &validation), "got %v", err)
		})
	}
}

func TestCreateOrGet_ProjectRepairsMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	existing, created, err := f.svc.CreateOrGet(ctx, chat.CreateConversationRequest{Type: model.ConversationTypeProject, InitiatorID: "alice", ProjectID: ptr("proj-1")})
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, []string{"alice"}, participantSet(t, f.store, existing.ID))

	conv, created, err := f.svc.CreateOrGet(ctx, chat.CreateConversationRequest{Type: model.ConversationTypeProject, InitiatorID: "alice", ParticipantIDs: []string{"alice", "bob"}, ProjectID: ptr("proj-1")})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, existing.ID, conv.ID)
	assert.ElementsMatch(t, []string{"alice", "bob"}, participantSet(t, f.store, conv.ID))

	bob, err := f.store.GetParticipant(ctx, conv.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, model.RoleMember, bob.Role)

	// A different project is a different conversation.
	other, created, err := f.svc.CreateOrGet(ctx, chat.CreateConversationRequest{Type: model.ConversationTypeProject, InitiatorID: "alice", ParticipantIDs: []string{"bob"}, ProjectID: ptr("proj-2")})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, conv.ID, other.ID)
}

func TestCreateOrGet_GroupAlwaysCreates(t *testing.T) {
	f := newFixture(t)
	a := f.group(t, "alice", "bob")
	b := f.group(t, "alice", "bob")
	assert.NotEqual(t, a.ID, b.ID)
}

func TestSend_EndToEndScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertUser(ctx, model.User{ID: "alice", DisplayName: "Alice"}))
	conv := f.group(t, "alice", "bob", "carol")
	f.broadcaster.reset()

	view, err := f.svc.Send(ctx, chat.SendMessageRequest{
		ConversationID: conv.ID,
		SenderID:       "alice",
		Content:        "Hello",
		MentionIDs:     []string{"bob"},
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", view.SenderID)
	assert.Equal(t, "Alice", view.Sender.DisplayName)
	assert.Equal(t, []string{"bob"}, view.Mentions)
	assert.Equal(t, model.MessageTypeText, view.Type)

	msgs, _, err := f.store.ListMessages(ctx, conv.ID, nil, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice", msgs[0].SenderID)

	deliveries, err := f.store.ListDeliveries(ctx, view.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	for _, d := range deliveries {
		assert.Contains(t, []string{"bob", "carol"}, d.UserID)
		assert.Equal(t, model.DeliveryStatusSent, d.Status)
	}

	mentions, err := f.store.ListMentions(ctx, []uuid.UUID{view.ID})
	require.NoError(t, err)
	require.Len(t, mentions, 1)
	assert.Equal(t, "bob", mentions[0].UserID)

	assert.Equal(t, []string{gateway.EventNewMessage}, f.broadcaster.on(broadcast.ConversationChannel(conv.ID)))
	assert.Equal(t, []string{gateway.EventNewMessage, gateway.EventMessageMention}, f.broadcaster.on(broadcast.UserChannel("bob")))
	assert.Equal(t, []string{gateway.EventNewMessage}, f.broadcaster.on(broadcast.UserChannel("carol")))
	assert.Empty(t, f.broadcaster.on(broadcast.UserChannel("alice")))

	require.Len(t, f.notifier.notifications, 2)
	kinds := map[string]model.NotificationKind{}
	for _, n := range f.notifier.notifications {
		kinds[n.UserID] = n.Kind
		assert.Equal(t, conv.ID, n.ConversationID)
		assert.Equal(t, view.ID, n.MessageID)
		assert.Equal(t, "Hello", n.Payload.Data().Body)
	}
	assert.Equal(t, map[string]model.NotificationKind{"bob": model.NotificationKindMention, "carol": model.NotificationKindMessage}, kinds)

	stored, err := f.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", stored.LastMessagePreview)
	require.NotNil(t, stored.LastMessageAt)
}

func TestSend_DeliveryCompleteness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	members := []string{"u1", "u2", "u3", "u4", "u5"}
	conv := f.group(t, "owner", members...)

	for _, sender := range append([]string{"owner"}, members...) {
		view, err := f.svc.Send(ctx, chat.SendMessageRequest{ConversationID: conv.ID, SenderID: sender, Content: "ping from " + sender})
		require.NoError(t, err)
		deliveries, err := f.store.ListDeliveries(ctx, view.ID)
		require.NoError(t, err)
		assert.Len(t, deliveries, len(members))
		for _, d := range deliveries {
			assert.NotEqual(t, sender, d.UserID)
			assert.Equal(t, model.DeliveryStatusSent, d.Status)
		}
	}
}

func TestSend_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.group(t, "alice", "bob")
	other := f.group(t, "alice", "carol")
	foreign, err := f.svc.Send(ctx, chat.SendMessageRequest{ConversationID: other.ID, SenderID: "alice", Content: "elsewhere"})
	require.NoError(t, err)

	_, err = f.svc.Send(ctx, chat.SendMessageRequest{ConversationID: uuid.New(), SenderID: "alice", Content: "x"})
	var notFound *registrystore.NotFoundError
	assert.True(t, errors.As(err, &notFound))

	_, err = f.svc.Send(ctx, chat.SendMessageRequest{ConversationID: conv.ID, SenderID: "mallory", Content: "x"})
	var forbidden *registrystore.ForbiddenError
	assert.True(t, errors.As(err, &forbidden))

	_, err = f.svc.Send(ctx, chat.SendMessageRequest{ConversationID: conv.ID, SenderID: "alice", Content: "   "})
	var validation *registrystore.ValidationError
	assert.True(t, errors.As(err, &validation))

	_, err = f.svc.Send(ctx, chat.SendMessageRequest{ConversationID: conv.ID, SenderID: "alice", Content: "re", ReplyToID: &foreign.ID})
	assert.True(t, errors.As(err, &notFound))

	_, err = f.store.UpdateSettings(ctx, model.ConversationSettings{ConversationID: conv.ID, AllowFileSharing: false, AllowReactions: true})
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, chat.SendMessageRequest{
		ConversationID: conv.ID, SenderID: "alice",
		Attachments: []model.FileDescriptor{{URL: "https://files.example/contract.pdf", Name: "contract.pdf"}},
	})
	assert.True(t, errors.As(err, &validation))

	msgs, _, err := f.store.ListMessages(ctx, conv.ID, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSend_AttachmentOnlyMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.group(t, "alice", "bob")

	view, err := f.svc.Send(ctx, chat.SendMessageRequest{
		ConversationID: conv.ID, SenderID: "alice",
		Attachments: []model.FileDescriptor{{URL: "https://files.example/a.png", ContentType: "image/png"}, {URL: "https://files.example/b.png"}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.MessageTypeFile, view.Type)

	stored, err := f.store.GetMessage(ctx, view.ID)
	require.NoError(t, err)
	require.Len(t, stored.Attachments, 2)
	assert.Equal(t, "https://files.example/a.png", stored.Attachments[0].URL)

	c, err := f.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "[attachment]", c.LastMessagePreview)
}

func TestSend_PreviewIsTruncated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.group(t, "alice", "bob")
	long := ""
	for i := 0; i < 150; i++ {
		long += "é"
	}
	_, err := f.svc.Send(ctx, chat.SendMessageRequest{ConversationID: conv.ID, SenderID: "alice", Content: long})
	require.NoError(t, err)
	c, err := f.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, len([]rune(c.LastMessagePreview)))
}

func TestSend_MentionsFiltered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.group(t, "alice", "bob", "carol")

	view, err := f.svc.Send(ctx, chat.SendMessageRequest{
		ConversationID: conv.ID, SenderID: "alice", Content: "hey",
		MentionIDs: []string{"bob", "alice", "bob", "outsider", "carol"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "carol"}, view.Mentions)
	assert.Empty(t, f.broadcaster.on(broadcast.UserChannel("outsider")))
}

func TestSend_MutedParticipantGetsNoNotification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.group(t, "alice", "bob", "carol")
	_, err := f.svc.Mute(ctx, conv.ID, "carol", ptr(time.Now().Add(time.Hour)))
	require.NoError(t, err)

	_, err = f.svc.Send(ctx, chat.SendMessageRequest{ConversationID: conv.ID, SenderID: "alice", Content: "hi"})
	require.NoError(t, err)
	require.Len(t, f.notifier.notifications, 1)
	assert.Equal(t, "bob", f.notifier.notifications[0].UserID)
	// Muting does not suppress the live event.
	assert.Equal(t, []string{gateway.EventNewMessage}, f.broadcaster.on(broadcast.UserChannel("carol")))
}

func TestSend_SideEffectFailuresDoNotFailSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.group(t, "alice", "bob")
	f.broadcaster.err = errors.New("transport unavailable")
	f.notifier.err = errors.New("outbox unavailable")

	view, err := f.svc.Send(ctx, chat.SendMessageRequest{ConversationID: conv.ID, SenderID: "alice", Content: "still sent"})
	require.NoError(t, err)
	_, err = f.store.GetMessage(ctx, view.ID)
	require.NoError(t, err)
}

func TestHistory_HydratesRepliesAndMentions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertUser(ctx, model.User{ID: "bob", DisplayName: "Bob"}))
	conv := f.group(t, "alice", "bob")

	root, err := f.svc.Send(ctx, chat.SendMessageRequest{ConversationID: conv.ID, SenderID: "alice", Content: "question?"})
	require.NoError(t, err)
	reply, err := f.svc.Send(ctx, chat.SendMessageRequest{
		ConversationID: conv.ID, SenderID: "bob", Content: "answer",
		ReplyToID: &root.ID, ThreadID: &root.ID, MentionIDs: []string{"alice"},
	})
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, root.ID, reply.ReplyTo.ID)

	views, cursor, err := f.svc.History(ctx, conv.ID, "alice", nil, 1)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, root.ID, views[0].ID)
	assert.Empty(t, views[0].Mentions)
	require.NotNil(t, cursor)

	views, cursor, err = f.svc.History(ctx, conv.ID, "alice", cursor, 10)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Nil(t, cursor)
	assert.Equal(t, "Bob", views[0].Sender.DisplayName)
	assert.Equal(t, []string{"alice"}, views[0].Mentions)
	require.NotNil(t, views[0].ReplyTo)
	assert.Equal(t, "question?", views[0].ReplyTo.Preview)
	require.NotNil(t, views[0].ThreadID)
	assert.Equal(t, root.ID, *views[0].ThreadID)

	_, _, err = f.svc.History(ctx, conv.ID, "mallory", nil, 10)
	var forbidden *registrystore.ForbiddenError
	assert.True(t, errors.As(err, &forbidden))
}

func TestMarkRead_IdempotentAndDeliversOnRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.group(t, "alice", "bob")
	msg, err := f.svc.Send(ctx, chat.SendMessageRequest{ConversationID: conv.ID, SenderID: "alice", Content: "hi"})
	require.NoError(t, err)
	f.broadcaster.reset()

	_, err = f.svc.MarkRead(ctx, msg.ID, "bob")
	require.NoError(t, err)
	_, err = f.svc.MarkRead(ctx, msg.ID, "bob")
	require.NoError(t, err)

	receipts, err := f.svc.Receipts(ctx, msg.ID, "alice")
	require.NoError(t, err)
	require.Len(t, receipts.Reads, 1)
	assert.Equal(t, "bob", receipts.Reads[0].UserID)
	require.Len(t, receipts.Deliveries, 1)
	assert.Equal(t, model.DeliveryStatusDelivered, receipts.Deliveries[0].Status)

	assert.Equal(t, []string{gateway.EventMessageRead, gateway.EventMessageRead}, f.broadcaster.on(broadcast.ConversationChannel(conv.ID)))

	_, err = f.svc.MarkRead(ctx, msg.ID, "mallory")
	var forbidden *registrystore.ForbiddenError
	assert.True(t, errors.As(err, &forbidden))
	_, err = f.svc.MarkRead(ctx, uuid.New(), "bob")
	var notFound *registrystore.NotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestMarkRead_SenderHasNoDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.group(t, "alice", "bob")
	msg, err := f.svc.Send(ctx, chat.SendMessageRequest{ConversationID: conv.ID, SenderID: "alice", Content: "hi"})
	require.NoError(t, err)

	_, err = f.svc.MarkRead(ctx, msg.ID, "alice")
	require.NoError(t, err)
	receipts, err := f.svc.Receipts(ctx, msg.ID, "alice")
	require.NoError(t, err)
	require.Len(t, receipts.Deliveries, 1)
	assert.Equal(t, "bob", receipts.Deliveries[0].UserID)
	assert.Equal(t, model.DeliveryStatusSent, receipts.Deliveries[0].Status)
}

func TestToggleReaction_Law(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.group(t, "alice", "bob")
	msg, err := f.svc.Send(ctx, chat.SendMessageRequest{ConversationID: conv.ID, SenderID: "alice", Content: "ship it"})
	require.NoError(t, err)
	f.broadcaster.reset()

	added, err := f.svc.ToggleReaction(ctx, msg.ID, "bob", "🚀")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = f.svc.ToggleReaction(ctx, msg.ID, "bob", "🚀")
	require.NoError(t, err)
	assert.False(t, added)
	reactions, err := f.svc.ListReactions(ctx, msg.ID, "alice")
	require.NoError(t, err)
	assert.Empty(t, reactions)

	added, err = f.svc.ToggleReaction(ctx, msg.ID, "bob", "🚀")
	require.NoError(t, err)
	assert.True(t, added)
	reactions, err = f.svc.ListReactions(ctx, msg.ID, "alice")
	require.NoError(t, err)
	assert.Len(t, reactions, 1)

	assert.Equal(t, []string{
		gateway.EventMessageReactionAdded,
		gateway.EventMessageReactionRemoved,
		gateway.EventMessageReactionAdded,
	}, f.broadcaster.on(broadcast.ConversationChannel(conv.ID)))
}

func TestToggleReaction_Policy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.group(t, "alice", "bob")
	msg, err := f.svc.Send(ctx, chat.SendMessageRequest{ConversationID: conv.ID, SenderID: "alice", Content: "hi"})
	require.NoError(t, err)

	var validation *registrystore.ValidationError
	_, err = f.svc.ToggleReaction(ctx, msg.ID, "bob", " ")
	assert.True(t, errors.As(err, &validation))
	_, err = f.svc.ToggleReaction(ctx, msg.ID, "bob", "this-is-definitely-not-an-emoji-at-all")
	assert.True(t, errors.As(err, &validation))

	var forbidden *registrystore.ForbiddenError
	_, err = f.svc.ToggleReaction(ctx, msg.ID, "mallory", "👍")
	assert.True(t, errors.As(err, &forbidden))

	_, err = f.svc.UpdateSettings(ctx, conv.ID, "alice", chat.SettingsUpdate{AllowReactions: ptr(false)})
	require.NoError(t, err)
	_, err = f.svc.ToggleReaction(ctx, msg.ID, "bob", "👍")
	assert.True(t, errors.As(err, &validation))
}

func TestUpdateConversation_RequiresAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.group(t, "alice", "bob")

	_, err := f.svc.UpdateConversation(ctx, conv.ID, "bob", registrystore.ConversationUpdate{Title: ptr("mine now")})
	var forbidden *registrystore.ForbiddenError
	require.True(t, errors.As(err, &forbidden))

	_, err = f.svc.UpdateSettings(ctx, conv.ID, "bob", chat.SettingsUpdate{AllowFileSharing: ptr(false)})
	require.True(t, errors.As(err, &forbidden))

	updated, err := f.svc.UpdateConversation(ctx, conv.ID, "alice", registrystore.ConversationUpdate{
		Title: ptr("Renamed"), Archived: ptr(true), Priority: ptr(model.PriorityHigh),
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.True(t, updated.Archived)
	assert.Equal(t, model.PriorityHigh, updated.Priority)

	settings, err := f.svc.UpdateSettings(ctx, conv.ID, "alice", chat.SettingsUpdate{AllowFileSharing: ptr(false)})
	require.NoError(t, err)
	assert.False(t, settings.AllowFileSharing)
	assert.True(t, settings.AllowReactions)
}

func TestGetConversation_ParticipantsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.group(t, "alice", "bob")

	detail, err := f.svc.GetConversation(ctx, conv.ID, "bob")
	require.NoError(t, err)
	assert.Len(t, detail.Participants, 2)

	_, err = f.svc.GetConversation(ctx, conv.ID, "mallory")
	var forbidden *registrystore.ForbiddenError
	assert.True(t, errors.As(err, &forbidden))

	_, err = f.svc.GetConversation(ctx, uuid.New(), "alice")
	var notFound *registrystore.NotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestAuthorizeJoin_UsesParticipantCache(t *testing.T) {
	store := testdb.NewStore(t)
	cache, err := memory.New(time.Minute)
	require.NoError(t, err)
	svc := chat.NewService(chat.Options{Store: store, Broadcaster: &recordingBroadcaster{}, Participants: cache})
	ctx := context.Background()

	conv, _, err := svc.CreateOrGet(ctx, chat.CreateConversationRequest{Type: model.ConversationTypeProject, InitiatorID: "alice", ProjectID: ptr("p")})
	require.NoError(t, err)
	require.NoError(t, svc.AuthorizeJoin(ctx, conv.ID, "alice"))

	var forbidden *registrystore.ForbiddenError
	require.True(t, errors.As(svc.AuthorizeJoin(ctx, conv.ID, "bob"), &forbidden))

	// Membership repair must be visible to the join check straight away.
	_, _, err = svc.CreateOrGet(ctx, chat.CreateConversationRequest{Type: model.ConversationTypeProject, InitiatorID: "alice", ParticipantIDs: []string{"bob"}, ProjectID: ptr("p")})
	require.NoError(t, err)
	require.NoError(t, svc.AuthorizeJoin(ctx, conv.ID, "bob"))

	var notFound *registrystore.NotFoundError
	require.True(t, errors.As(svc.AuthorizeJoin(ctx, uuid.New(), "alice"), &notFound))
}
