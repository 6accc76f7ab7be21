package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/gigmarket/chat-service/internal/config"
	registrycache "github.com/gigmarket/chat-service/internal/registry/cache"
	"github.com/gigmarket/chat-service/internal/security"
	"github.com/google/uuid"
)

const (
	defaultTTL = 5 * time.Minute
	maxEntries = 100_000
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "memory",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.ParticipantCache, error) {
	ttl := defaultTTL
	if cfg := config.FromContext(ctx); cfg != nil && cfg.CacheTTL > 0 {
		ttl = cfg.CacheTTL
	}
	return New(ttl)
}

// New creates an in-process participant cache bounded by entry count.
func New(ttl time.Duration) (registrycache.ParticipantCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []string]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("memory cache: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &memoryParticipantCache{cache: c, ttl: ttl}, nil
}

type memoryParticipantCache struct {
	cache *ristretto.Cache[string, []string]
	ttl   time.Duration
}

func (c *memoryParticipantCache) Available() bool { return true }

func (c *memoryParticipantCache) Get(_ context.Context, conversationID uuid.UUID) ([]string, bool, error) {
	ids, ok := c.cache.Get(conversationID.String())
	if !ok {
		if security.CacheMissesTotal != nil {
			security.CacheMissesTotal.Inc()
		}
		return nil, false, nil
	}
	if security.CacheHitsTotal != nil {
		security.CacheHitsTotal.Inc()
	}
	return append([]string(nil), ids...), true, nil
}

func (c *memoryParticipantCache) Set(_ context.Context, conversationID uuid.UUID, userIDs []string, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}
	c.cache.SetWithTTL(conversationID.String(), append([]string(nil), userIDs...), 1, ttl)
	c.cache.Wait()
	return nil
}

func (c *memoryParticipantCache) Remove(_ context.Context, conversationID uuid.UUID) error {
	c.cache.Del(conversationID.String())
	return nil
}

var _ registrycache.ParticipantCache = (*memoryParticipantCache)(nil)
