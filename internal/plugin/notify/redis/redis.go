package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gigmarket/chat-service/internal/config"
	"github.com/gigmarket/chat-service/internal/model"
	cacheredis "github.com/gigmarket/chat-service/internal/plugin/cache/redis"
	registrynotify "github.com/gigmarket/chat-service/internal/registry/notify"
	goredis "github.com/redis/go-redis/v9"
)

// streamMaxLen bounds the stream; consumers are expected to keep up.
const streamMaxLen = 100_000

func init() {
	registrynotify.Register(registrynotify.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrynotify.Sink, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis notification sink: CHAT_SERVICE_REDIS_URL is required")
	}
	client, err := cacheredis.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis notification sink: %w", err)
	}
	return New(client, cfg.NotifyStream), nil
}

// New returns a sink that appends each notification to a Redis stream. The sink owns
// client and closes it on Close.
func New(client *goredis.Client, stream string) registrynotify.Sink {
	return &streamSink{client: client, stream: stream}
}

type streamSink struct {
	client *goredis.Client
	stream string
}

func (s *streamSink) Send(ctx context.Context, n model.Notification) error {
	payload, err := json.Marshal(n.Payload.Data())
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return s.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: s.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"id":             n.ID.String(),
			"userId":         n.UserID,
			"kind":           string(n.Kind),
			"conversationId": n.ConversationID.String(),
			"messageId":      n.MessageID.String(),
			"payload":        string(payload),
		},
	}).Err()
}

func (s *streamSink) Close() error {
	return s.client.Close()
}
