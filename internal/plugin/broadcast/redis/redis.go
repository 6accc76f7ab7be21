package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gigmarket/chat-service/internal/config"
	cacheredis "github.com/gigmarket/chat-service/internal/plugin/cache/redis"
	"github.com/gigmarket/chat-service/internal/registry/broadcast"
	goredis "github.com/redis/go-redis/v9"
)

func init() {
	broadcast.Register(broadcast.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context, local broadcast.Deliverer) (broadcast.Broadcaster, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis broadcaster: CHAT_SERVICE_REDIS_URL is required")
	}
	client, err := cacheredis.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis broadcaster: %w", err)
	}
	return New(ctx, client, cfg.BroadcastRedisChannel, local)
}

// New publishes events on a Redis pub/sub channel and relays every event received
// on it, including this process's own, to local.
func New(ctx context.Context, client *goredis.Client, channel string, local broadcast.Deliverer) (broadcast.Broadcaster, error) {
	pubsub := client.Subscribe(ctx, channel)
	// Block until the subscription is confirmed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis broadcaster: subscribe %s: %w", channel, err)
	}
	b := &redisBroadcaster{
		client:  client,
		channel: channel,
		pubsub:  pubsub,
		local:   local,
		done:    make(chan struct{}),
	}
	go b.relay()
	log.Info("Redis broadcaster subscribed", "channel", channel)
	return b, nil
}

type redisBroadcaster struct {
	client    *goredis.Client
	channel   string
	pubsub    *goredis.PubSub
	local     broadcast.Deliverer
	done      chan struct{}
	closeOnce sync.Once
}

func (b *redisBroadcaster) Publish(ctx context.Context, event broadcast.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis broadcaster: marshal: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("redis broadcaster: publish: %w", err)
	}
	return nil
}

func (b *redisBroadcaster) relay() {
	defer close(b.done)
	for msg := range b.pubsub.Channel() {
		var event broadcast.Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			log.Warn("Dropping malformed broadcast event", "channel", msg.Channel, "err", err)
			continue
		}
		b.local.Deliver(event)
	}
}

func (b *redisBroadcaster) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.pubsub.Close()
		<-b.done
		if cerr := b.client.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

var _ broadcast.Broadcaster = (*redisBroadcaster)(nil)
