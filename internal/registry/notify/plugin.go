package notify

import (
	"context"
	"fmt"

	"github.com/gigmarket/chat-service/internal/model"
)

// Sink hands a claimed notification to the external push/email subsystem.
type Sink interface {
	Send(ctx context.Context, n model.Notification) error
	Close() error
}

// Loader creates a Sink from config.
type Loader func(ctx context.Context) (Sink, error)

// Plugin represents a notification sink plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a sink plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered sink plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named sink plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown notification sink %q; valid: %v", name, Names())
}
