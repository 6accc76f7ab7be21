package sqlstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gigmarket/chat-service/internal/model"
	registrystore "github.com/gigmarket/chat-service/internal/registry/store"
	"github.com/gigmarket/chat-service/internal/testutil/testdb"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func createConversation(t *testing.T, s registrystore.ChatStore, typ model.ConversationType, dedupKey *string, users ...string) *model.Conversation {
	t.Helper()
	conv := &model.Conversation{Type: typ, DedupKey: dedupKey}
	participants := make([]model.Participant, len(users))
	for i, u := range users {
		role := model.RoleMember
		if i == 0 {
			role = model.RoleOwner
		}
		participants[i] = model.Participant{UserID: u, Role: role}
	}
	require.NoError(t, s.CreateConversation(context.Background(), conv, participants))
	return conv
}

func sendMessage(t *testing.T, s registrystore.ChatStore, convID uuid.UUID, sender string, content string, recipients ...string) *model.Message {
	t.Helper()
	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()),
		ConversationID: convID,
		SenderID:       sender,
		Content:        content,
		Type:           model.MessageTypeText,
		Priority:       model.PriorityNormal,
	}
	require.NoError(t, s.CreateMessage(context.Background(), registrystore.NewMessage{
		Message:    msg,
		Recipients: recipients,
		Preview:    content,
	}))
	return msg
}

func TestCreateConversation_DedupKeyConflict(t *testing.T) {
	s := testdb.NewStore(t)
	ctx := context.Background()
	key := "direct:alice:bob"
	first := createConversation(t, s, model.ConversationTypeDirect, ptr(key), "alice", "bob")

	err := s.CreateConversation(ctx, &model.Conversation{Type: model.ConversationTypeDirect, DedupKey: ptr(key)},
		[]model.Participant{{UserID: "alice", Role: model.RoleOwner}, {UserID: "bob", Role: model.RoleMember}})
	var conflict *registrystore.ConflictError
	require.True(t, errors.As(err, &conflict), "got %v", err)
	assert.Equal(t, "conversation_exists", conflict.Code)

	found, err := s.FindConversationByDedupKey(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first.ID, found.ID)

	participants, err := s.ListParticipants(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, participants, 2)
}

func TestFindDirectConversation_RequiresExactPair(t *testing.T) {
	s := testdb.NewStore(t)
	ctx := context.Background()
	createConversation(t, s, model.ConversationTypeGroup, nil, "alice", "bob", "carol")
	createConversation(t, s, model.ConversationTypeDirect, nil, "alice", "bob", "carol")

	found, err := s.FindDirectConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Nil(t, found)

	direct := createConversation(t, s, model.ConversationTypeDirect, nil, "bob", "alice")
	found, err = s.FindDirectConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, direct.ID, found.ID)
}

func TestFindProjectConversation_OldestWithInitiator(t *testing.T) {
	s := testdb.NewStore(t)
	ctx := context.Background()
	older := &model.Conversation{Type: model.ConversationTypeProject, ProjectID: ptr("p1"), CreatedAt: time.Now().Add(-time.Hour).UTC()}
	require.NoError(t, s.CreateConversation(ctx, older, []model.Participant{{UserID: "alice", Role: model.RoleOwner}}))
	newer := &model.Conversation{Type: model.ConversationTypeProject, ProjectID: ptr("p1")}
	require.NoError(t, s.CreateConversation(ctx, newer, []model.Participant{{UserID: "alice", Role: model.RoleOwner}}))

	found, err := s.FindProjectConversation(ctx, "p1", "alice")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, older.ID, found.ID)

	found, err = s.FindProjectConversation(ctx, "p1", "bob")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestAddParticipants_SkipsExisting(t *testing.T) {
	s := testdb.NewStore(t)
	ctx := context.Background()
	conv := createConversation(t, s, model.ConversationTypeGroup, nil, "alice", "bob")

	added, err := s.AddParticipants(ctx, []model.Participant{
		{ConversationID: conv.ID, UserID: "bob", Role: model.RoleMember},
		{ConversationID: conv.ID, UserID: "carol", Role: model.RoleMember},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	ok, err := s.IsParticipant(ctx, conv.ID, "carol")
	require.NoError(t, err)
	assert.True(t, ok)
	bob, err := s.GetParticipant(ctx, conv.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, model.RoleMember, bob.Role)
}

func TestListConversations_NewestActivityFirstWithCursor(t *testing.T) {
	s := testdb.NewStore(t)
	ctx := context.Background()
	a := createConversation(t, s, model.ConversationTypeGroup, nil, "alice", "bob")
	b := createConversation(t, s, model.ConversationTypeGroup, nil, "alice", "carol")
	c := createConversation(t, s, model.ConversationTypeGroup, nil, "alice")
	createConversation(t, s, model.ConversationTypeGroup, nil, "dave")

	time.Sleep(5 * time.Millisecond)
	sendMessage(t, s, a.ID, "bob", "hello", "alice")
	_, err := s.UpdateConversation(ctx, c.ID, registrystore.ConversationUpdate{Archived: ptr(true)})
	require.NoError(t, err)

	page, cursor, err := s.ListConversations(ctx, "alice", registrystore.ConversationQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, a.ID, page[0].ID)
	assert.Equal(t, "hello", page[0].LastMessagePreview)
	require.NotNil(t, cursor)

	page, cursor, err = s.ListConversations(ctx, "alice", registrystore.ConversationQuery{Limit: 1, AfterCursor: cursor})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, b.ID, page[0].ID)
	assert.Nil(t, cursor)

	archived, _, err := s.ListConversations(ctx, "alice", registrystore.ConversationQuery{OnlyArchived: true})
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, c.ID, archived[0].ID)

	all, _, err := s.ListConversations(ctx, "alice", registrystore.ConversationQuery{IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestCreateMessage_DeliveriesExcludeSender(t *testing.T) {
	s := testdb.NewStore(t)
	ctx := context.Background()
	conv := createConversation(t, s, model.ConversationTypeGroup, nil, "alice", "bob", "carol")
	msg := sendMessage(t, s, conv.ID, "alice", "hi", "alice", "bob", "carol")

	deliveries, err := s.ListDeliveries(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	for _, d := range deliveries {
		assert.NotEqual(t, "alice", d.UserID)
		assert.Equal(t, model.DeliveryStatusSent, d.Status)
		assert.Nil(t, d.DeliveredAt)
	}

	stored, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi", stored.Content)
	assert.Empty(t, stored.Attachments)
}

func TestCreateMessage_UnknownConversationRollsBack(t *testing.T) {
	s := testdb.NewStore(t)
	ctx := context.Background()
	msg := &model.Message{ConversationID: uuid.New(), SenderID: "alice", Content: "x", Type: model.MessageTypeText, Priority: model.PriorityNormal}
	err := s.CreateMessage(ctx, registrystore.NewMessage{Message: msg, Recipients: []string{"bob"}})
	var notFound *registrystore.NotFoundError
	require.True(t, errors.As(err, &notFound))

	_, err = s.GetMessage(ctx, msg.ID)
	require.True(t, errors.As(err, &notFound))
}

func TestListMessages_AscendingWithCursor(t *testing.T) {
	s := testdb.NewStore(t)
	ctx := context.Background()
	conv := createConversation(t, s, model.ConversationTypeGroup, nil, "alice", "bob")
	var ids []uuid.UUID
	for _, content := range []string{"one", "two", "three"} {
		ids = append(ids, sendMessage(t, s, conv.ID, "alice", content, "bob").ID)
	}

	page, cursor, err := s.ListMessages(ctx, conv.ID, nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[0], page[0].ID)
	assert.Equal(t, ids[1], page[1].ID)
	require.NotNil(t, cursor)

	page, cursor, err = s.ListMessages(ctx, conv.ID, cursor, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[2], page[0].ID)
	assert.Nil(t, cursor)

	_, _, err = s.ListMessages(ctx, conv.ID, ptr("nope"), 2)
	var validation *registrystore.ValidationError
	assert.True(t, errors.As(err, &validation))
}

func TestMarkRead_IdempotentAndDelivers(t *testing.T) {
	s := testdb.NewStore(t)
	ctx := context.Background()
	conv := createConversation(t, s, model.ConversationTypeDirect, nil, "alice", "bob")
	msg := sendMessage(t, s, conv.ID, "alice", "hi", "bob")

	first := time.Now().UTC().Truncate(time.Millisecond)
	_, err := s.MarkRead(ctx, msg.ID, "bob", first)
	require.NoError(t, err)
	second := first.Add(time.Minute)
	_, err = s.MarkRead(ctx, msg.ID, "bob", second)
	require.NoError(t, err)

	reads, err := s.ListReads(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, reads, 1)
	assert.True(t, reads[0].ReadAt.Equal(second))

	deliveries, err := s.ListDeliveries(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, model.DeliveryStatusDelivered, deliveries[0].Status)
	require.NotNil(t, deliveries[0].DeliveredAt)
	assert.True(t, deliveries[0].DeliveredAt.Equal(first))
}

func TestToggleReaction_Law(t *testing.T) {
	s := testdb.NewStore(t)
	ctx := context.Background()
	conv := createConversation(t, s, model.ConversationTypeDirect, nil, "alice", "bob")
	msg := sendMessage(t, s, conv.ID, "alice", "hi", "bob")

	for i := 1; i <= 4; i++ {
		added, err := s.ToggleReaction(ctx, msg.ID, "bob", "👍", time.Now().UTC())
		require.NoError(t, err)
		assert.Equal(t, i%2 == 1, added)
		reactions, err := s.ListReactions(ctx, msg.ID)
		require.NoError(t, err)
		assert.Len(t, reactions, i%2)
	}

	_, err := s.ToggleReaction(ctx, msg.ID, "bob", "🎉", time.Now().UTC())
	require.NoError(t, err)
	_, err = s.ToggleReaction(ctx, msg.ID, "alice", "🎉", time.Now().UTC())
	require.NoError(t, err)
	reactions, err := s.ListReactions(ctx, msg.ID)
	require.NoError(t, err)
	assert.Len(t, reactions, 2)
}

func TestSettings_DefaultsAndUpsert(t *testing.T) {
	s := testdb.NewStore(t)
	ctx := context.Background()
	conv := createConversation(t, s, model.ConversationTypeGroup, nil, "alice")

	settings, err := s.GetSettings(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, settings.AllowFileSharing)
	assert.True(t, settings.AllowReactions)

	_, err = s.UpdateSettings(ctx, model.ConversationSettings{ConversationID: conv.ID, AllowFileSharing: false, AllowReactions: true})
	require.NoError(t, err)
	_, err = s.UpdateSettings(ctx, model.ConversationSettings{ConversationID: conv.ID, AllowFileSharing: false, AllowReactions: false})
	require.NoError(t, err)

	settings, err = s.GetSettings(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, settings.AllowFileSharing)
	assert.False(t, settings.AllowReactions)
}

func TestSetMutedUntil(t *testing.T) {
	s := testdb.NewStore(t)
	ctx := context.Background()
	conv := createConversation(t, s, model.ConversationTypeGroup, nil, "alice", "bob")
	until := time.Now().Add(time.Hour).UTC()

	p, err := s.SetMutedUntil(ctx, conv.ID, "bob", &until)
	require.NoError(t, err)
	assert.True(t, p.MutedAt(time.Now()))

	p, err = s.SetMutedUntil(ctx, conv.ID, "bob", nil)
	require.NoError(t, err)
	assert.False(t, p.MutedAt(time.Now()))

	_, err = s.SetMutedUntil(ctx, conv.ID, "mallory", &until)
	var notFound *registrystore.NotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestNotifications_ClaimFailDispatch(t *testing.T) {
	s := testdb.NewStore(t)
	ctx := context.Background()
	n := model.Notification{UserID: "bob", Kind: model.NotificationKindMessage, ConversationID: uuid.New(), MessageID: uuid.New()}
	require.NoError(t, s.CreateNotifications(ctx, []model.Notification{n}))

	claimed, err := s.ClaimPendingNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// A claimed record is leased away from other dispatchers.
	again, err := s.ClaimPendingNotifications(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, s.FailNotification(ctx, claimed[0].ID, "sink down", -time.Second))
	retried, err := s.ClaimPendingNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, retried, 1)
	assert.Equal(t, 1, retried[0].RetryCount)
	require.NotNil(t, retried[0].LastError)
	assert.Equal(t, "sink down", *retried[0].LastError)

	require.NoError(t, s.MarkNotificationDispatched(ctx, retried[0].ID, time.Now().UTC()))
	require.NoError(t, s.FailNotification(ctx, retried[0].ID, "ignored", -time.Second))
	none, err := s.ClaimPendingNotifications(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUsers_UpsertAndBatchGet(t *testing.T) {
	s := testdb.NewStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertUser(ctx, model.User{ID: "alice", DisplayName: "Alice"}))
	require.NoError(t, s.UpsertUser(ctx, model.User{ID: "alice", DisplayName: "Alice A.", Role: "client"}))
	require.NoError(t, s.UpsertUser(ctx, model.User{ID: "bob", DisplayName: "Bob"}))

	u, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice A.", u.DisplayName)
	assert.Equal(t, "client", u.Role)

	users, err := s.GetUsers(ctx, []string{"alice", "bob", "ghost"})
	require.NoError(t, err)
	assert.Len(t, users, 2)
}
