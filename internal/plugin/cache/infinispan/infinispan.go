// Package infinispan provides a participant cache backed by Infinispan's RESP
// endpoint. Entries use the same layout as the redis cache.
package infinispan

import (
	"context"
	"fmt"

	"github.com/gigmarket/chat-service/internal/config"
	"github.com/gigmarket/chat-service/internal/plugin/cache/redis"
	registrycache "github.com/gigmarket/chat-service/internal/registry/cache"
	goredis "github.com/redis/go-redis/v9"
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "infinispan",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.ParticipantCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.InfinispanHost == "" {
		return nil, fmt.Errorf("infinispan cache: CHAT_SERVICE_INFINISPAN_HOST is required")
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, cfg.InfinispanStartupTimeout)
	defer cancel()

	client, err := redis.ConnectOptions(timeoutCtx, Options(cfg))
	if err != nil {
		return nil, fmt.Errorf("infinispan cache: %w", err)
	}
	return redis.New(client, cfg.CacheTTL), nil
}

// Options builds client options for the Infinispan RESP endpoint. Infinispan does not
// answer the RESP3 HELLO handshake, so the client is pinned to RESP2.
func Options(cfg *config.Config) *goredis.Options {
	return &goredis.Options{
		Addr:     cfg.InfinispanHost,
		Username: cfg.InfinispanUsername,
		Password: cfg.InfinispanPassword,
		Protocol: 2,
	}
}
