//go:build integration

package redis

import (
	"context"
	"testing"

	"github.com/gigmarket/chat-service/internal/model"
	cacheredis "github.com/gigmarket/chat-service/internal/plugin/cache/redis"
	"github.com/gigmarket/chat-service/internal/testutil/testredis"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestStreamSink_AppendsEntry(t *testing.T) {
	ctx := context.Background()
	url := testredis.StartRedis(t)
	client, err := cacheredis.Connect(ctx, url)
	require.NoError(t, err)
	reader, err := cacheredis.Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reader.Close() })

	sink := New(client, "test:notifications")
	t.Cleanup(func() { _ = sink.Close() })

	n := model.Notification{
		ID:             uuid.New(),
		UserID:         "bob",
		Kind:           model.NotificationKindMention,
		ConversationID: uuid.New(),
		MessageID:      uuid.New(),
		Payload:        datatypes.NewJSONType(model.NotificationPayload{Title: "Design", Body: "Hello", SenderID: "alice"}),
	}
	require.NoError(t, sink.Send(ctx, n))

	entries, err := reader.XRange(ctx, "test:notifications", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	values := entries[0].Values
	assert.Equal(t, "bob", values["userId"])
	assert.Equal(t, "mention", values["kind"])
	assert.Equal(t, n.MessageID.String(), values["messageId"])
	assert.JSONEq(t, `{"title":"Design","body":"Hello","senderId":"alice"}`, values["payload"].(string))
}
