package local

import (
	"context"

	"github.com/gigmarket/chat-service/internal/registry/broadcast"
)

func init() {
	broadcast.Register(broadcast.Plugin{
		Name: "local",
		Loader: func(_ context.Context, local broadcast.Deliverer) (broadcast.Broadcaster, error) {
			return New(local), nil
		},
	})
}

// New returns a broadcaster that only reaches connections held by this process.
func New(local broadcast.Deliverer) broadcast.Broadcaster {
	return &localBroadcaster{local: local}
}

type localBroadcaster struct {
	local broadcast.Deliverer
}

func (b *localBroadcaster) Publish(_ context.Context, event broadcast.Event) error {
	b.local.Deliver(event)
	return nil
}

func (b *localBroadcaster) Close() error { return nil }

var _ broadcast.Broadcaster = (*localBroadcaster)(nil)
