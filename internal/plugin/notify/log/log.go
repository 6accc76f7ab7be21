// Package log is a notification sink that only writes each notification to the
// service log. It is the default when no external subsystem is configured.
package log

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/gigmarket/chat-service/internal/model"
	registrynotify "github.com/gigmarket/chat-service/internal/registry/notify"
)

func init() {
	registrynotify.Register(registrynotify.Plugin{
		Name: "log",
		Loader: func(ctx context.Context) (registrynotify.Sink, error) {
			return New(), nil
		},
	})
}

// New returns a sink that logs notifications at info level.
func New() registrynotify.Sink {
	return logSink{}
}

type logSink struct{}

func (logSink) Send(_ context.Context, n model.Notification) error {
	payload := n.Payload.Data()
	log.Info("Notification",
		"id", n.ID,
		"userId", n.UserID,
		"kind", n.Kind,
		"conversationId", n.ConversationID,
		"messageId", n.MessageID,
		"title", payload.Title,
		"attempt", n.RetryCount+1,
	)
	return nil
}

func (logSink) Close() error { return nil }
