package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
)

// Event is one real-time event addressed to a channel.
type Event struct {
	Channel ChannelID       `json:"channel"`
	Name    string          `json:"event"`
	Data    json.RawMessage `json:"data"`
	// ExcludeClient skips the connection with this id, typically the originator.
	ExcludeClient string `json:"excludeClient,omitempty"`
}

// NewEvent marshals data into an Event.
func NewEvent(channel ChannelID, name string, data interface{}) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s event: %w", name, err)
	}
	return Event{Channel: channel, Name: name, Data: raw}, nil
}

// Deliverer hands an event to the connections held by this process.
type Deliverer interface {
	Deliver(event Event)
}

// Broadcaster publishes events to every process that may hold a subscriber.
// Publishing is best-effort: callers log failures and carry on.
type Broadcaster interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Loader creates a broadcaster that delivers to local.
type Loader func(ctx context.Context, local Deliverer) (Broadcaster, error)

// Plugin represents a broadcast plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a broadcast plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered broadcast plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named broadcast plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown broadcaster %q; valid: %v", name, Names())
}
