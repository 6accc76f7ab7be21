package notify

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gigmarket/chat-service/internal/config"
	"github.com/gigmarket/chat-service/internal/model"
	registrynotify "github.com/gigmarket/chat-service/internal/registry/notify"
	registrystore "github.com/gigmarket/chat-service/internal/registry/store"
	"github.com/gigmarket/chat-service/internal/security"
)

// Dispatcher polls the outbox for pending notifications and sends them to a Sink.
// A notification that keeps failing is abandoned after maxRetries attempts.
type Dispatcher struct {
	store      registrystore.ChatStore
	sink       registrynotify.Sink
	interval   time.Duration
	retryDelay time.Duration
	batchSize  int
	maxRetries int
	now        func() time.Time
}

// NewDispatcher creates a dispatcher using the notification settings in cfg.
func NewDispatcher(store registrystore.ChatStore, sink registrynotify.Sink, cfg *config.Config) *Dispatcher {
	d := &Dispatcher{
		store:      store,
		sink:       sink,
		interval:   5 * time.Second,
		retryDelay: time.Minute,
		batchSize:  100,
		maxRetries: 10,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if cfg != nil {
		if cfg.NotifyInterval > 0 {
			d.interval = cfg.NotifyInterval
		}
		if cfg.NotifyRetryDelay > 0 {
			d.retryDelay = cfg.NotifyRetryDelay
		}
		if cfg.NotifyBatchSize > 0 {
			d.batchSize = cfg.NotifyBatchSize
		}
		if cfg.NotifyMaxRetryCount > 0 {
			d.maxRetries = cfg.NotifyMaxRetryCount
		}
	}
	return d
}

// Start runs the dispatch loop until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch claims one batch of pending notifications and dispatches it. It returns
// the number of notifications claimed.
func (d *Dispatcher) ProcessBatch(ctx context.Context) int {
	pending, err := d.store.ClaimPendingNotifications(ctx, d.batchSize)
	if err != nil {
		log.Error("Dispatcher: claim notifications failed", "err", err)
		return 0
	}
	for _, n := range pending {
		if err := d.sink.Send(ctx, n); err != nil {
			d.fail(ctx, n, err)
			if n.RetryCount+1 >= d.maxRetries {
				if mErr := d.store.MarkNotificationDispatched(ctx, n.ID, d.now()); mErr != nil {
					log.Error("Dispatcher: abandon notification failed", "notificationId", n.ID, "err", mErr)
					continue
				}
				log.Warn("Dispatcher: notification abandoned", "notificationId", n.ID, "userId", n.UserID, "attempts", n.RetryCount+1)
				security.ObserveNotification("abandoned")
			}
			continue
		}
		if err := d.store.MarkNotificationDispatched(ctx, n.ID, d.now()); err != nil {
			log.Error("Dispatcher: mark dispatched failed", "notificationId", n.ID, "err", err)
			continue
		}
		security.ObserveNotification("dispatched")
	}
	return len(pending)
}

func (d *Dispatcher) fail(ctx context.Context, n model.Notification, err error) {
	log.Error("Dispatcher: send failed", "notificationId", n.ID, "attempt", n.RetryCount+1, "err", err)
	security.ObserveNotification("failed")
	if fErr := d.store.FailNotification(ctx, n.ID, err.Error(), d.retryDelay); fErr != nil {
		log.Error("Dispatcher: record failure failed", "notificationId", n.ID, "err", fErr)
	}
}
