//go:build integration

package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	cacheredis "github.com/gigmarket/chat-service/internal/plugin/cache/redis"
	"github.com/gigmarket/chat-service/internal/registry/broadcast"
	"github.com/gigmarket/chat-service/internal/testutil/testredis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (r *recorder) Deliver(ev broadcast.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestRedisBroadcaster_RelaysAcrossInstances(t *testing.T) {
	ctx := context.Background()
	url := testredis.StartRedis(t)

	var a, b recorder
	clientA, err := cacheredis.Connect(ctx, url)
	require.NoError(t, err)
	clientB, err := cacheredis.Connect(ctx, url)
	require.NoError(t, err)

	pubA, err := New(ctx, clientA, "chat-test", &a)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pubA.Close() })
	pubB, err := New(ctx, clientB, "chat-test", &b)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pubB.Close() })

	ev, err := broadcast.NewEvent(broadcast.UserChannel("bob"), "new_message", map[string]string{"id": "m1"})
	require.NoError(t, err)
	require.NoError(t, pubA.Publish(ctx, ev))

	require.Eventually(t, func() bool { return a.count() == 1 && b.count() == 1 }, 5*time.Second, 20*time.Millisecond)
	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, ev.Channel, b.events[0].Channel)
	assert.Equal(t, "new_message", b.events[0].Name)
}
