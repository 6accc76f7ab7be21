package noop

import (
	"context"
	"time"

	"github.com/gigmarket/chat-service/internal/registry/cache"
	"github.com/google/uuid"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.ParticipantCache, error) {
			return New(), nil
		},
	})
}

// New returns a cache that never stores anything.
func New() cache.ParticipantCache {
	return &noopParticipantCache{}
}

type noopParticipantCache struct{}

func (n *noopParticipantCache) Available() bool { return false }
func (n *noopParticipantCache) Get(_ context.Context, _ uuid.UUID) ([]string, bool, error) {
	return nil, false, nil
}
func (n *noopParticipantCache) Set(_ context.Context, _ uuid.UUID, _ []string, _ time.Duration) error {
	return nil
}
func (n *noopParticipantCache) Remove(_ context.Context, _ uuid.UUID) error { return nil }

var _ cache.ParticipantCache = (*noopParticipantCache)(nil)
