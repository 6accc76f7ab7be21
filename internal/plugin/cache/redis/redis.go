package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gigmarket/chat-service/internal/config"
	registrycache "github.com/gigmarket/chat-service/internal/registry/cache"
	"github.com/gigmarket/chat-service/internal/security"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 5 * time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.ParticipantCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: CHAT_SERVICE_REDIS_URL is required")
	}
	client, err := Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return New(client, cfg.CacheTTL), nil
}

// Connect parses a Redis URL and verifies the server is reachable. It is shared by
// every component that talks to Redis.
func Connect(ctx context.Context, redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	return ConnectOptions(ctx, opts)
}

// ConnectOptions opens a client from explicit options and pings it.
func ConnectOptions(ctx context.Context, opts *goredis.Options) (*goredis.Client, error) {
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}
	return client, nil
}

// New wraps an existing client as a ParticipantCache.
func New(client *goredis.Client, ttl time.Duration) registrycache.ParticipantCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisParticipantCache{client: client, ttl: ttl}
}

type redisParticipantCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func participantsKey(convID uuid.UUID) string {
	return "chat-participants:" + convID.String()
}

func (c *redisParticipantCache) Available() bool {
	return true
}

func (c *redisParticipantCache) Get(ctx context.Context, conversationID uuid.UUID) ([]string, bool, error) {
	data, err := c.client.Get(ctx, participantsKey(conversationID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		if security.CacheMissesTotal != nil {
			security.CacheMissesTotal.Inc()
		}
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, false, err
	}
	if security.CacheHitsTotal != nil {
		security.CacheHitsTotal.Inc()
	}
	return ids, true, nil
}

func (c *redisParticipantCache) Set(ctx context.Context, conversationID uuid.UUID, userIDs []string, ttl time.Duration) error {
	data, err := json.Marshal(userIDs)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, participantsKey(conversationID), data, ttl).Err()
}

func (c *redisParticipantCache) Remove(ctx context.Context, conversationID uuid.UUID) error {
	return c.client.Del(ctx, participantsKey(conversationID)).Err()
}

var _ registrycache.ParticipantCache = (*redisParticipantCache)(nil)
