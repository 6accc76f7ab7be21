package gateway

import (
	"encoding/json"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gigmarket/chat-service/internal/registry/broadcast"
	"github.com/gigmarket/chat-service/internal/security"
)

// Hub tracks which live connections are subscribed to which channels on this
// process. It is created once at startup and shared by the gateway and every
// broadcaster plugin.
type Hub struct {
	mu       sync.RWMutex
	channels map[broadcast.ChannelID]map[*Client]struct{}
	clients  map[*Client]map[broadcast.ChannelID]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		channels: map[broadcast.ChannelID]map[*Client]struct{}{},
		clients:  map[*Client]map[broadcast.ChannelID]struct{}{},
	}
}

// Register adds a connection and binds it to its user's personal channel.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		return
	}
	h.clients[c] = map[broadcast.ChannelID]struct{}{}
	h.subscribeLocked(c, broadcast.UserChannel(c.UserID()))
	if security.GatewayConnections != nil {
		security.GatewayConnections.Inc()
	}
}

// Unregister removes a connection from every channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.clients[c]
	if !ok {
		return
	}
	for ch := range subs {
		h.removeLocked(c, ch)
	}
	delete(h.clients, c)
	if security.GatewayConnections != nil {
		security.GatewayConnections.Dec()
	}
}

// Subscribe adds c to ch. Unknown connections are ignored.
func (h *Hub) Subscribe(c *Client, ch broadcast.ChannelID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	h.subscribeLocked(c, ch)
}

func (h *Hub) subscribeLocked(c *Client, ch broadcast.ChannelID) {
	members, ok := h.channels[ch]
	if !ok {
		members = map[*Client]struct{}{}
		h.channels[ch] = members
	}
	members[c] = struct{}{}
	h.clients[c][ch] = struct{}{}
}

// Unsubscribe removes c from ch.
func (h *Hub) Unsubscribe(c *Client, ch broadcast.ChannelID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	h.removeLocked(c, ch)
}

func (h *Hub) removeLocked(c *Client, ch broadcast.ChannelID) {
	if members, ok := h.channels[ch]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.channels, ch)
		}
	}
	delete(h.clients[c], ch)
}

// Subscribed reports whether c currently receives events for ch.
func (h *Hub) Subscribed(c *Client, ch broadcast.ChannelID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[c][ch]
	return ok
}

// Subscribers returns the number of connections subscribed to ch.
func (h *Hub) Subscribers(ch broadcast.ChannelID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[ch])
}

// Connections returns the number of registered connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Deliver writes event to every local subscriber of its channel without blocking.
// Connections whose send buffer is full miss the event.
func (h *Hub) Deliver(event broadcast.Event) {
	frame, err := json.Marshal(Frame{Event: event.Name, Data: event.Data})
	if err != nil {
		log.Error("Failed to encode event", "event", event.Name, "channel", event.Channel, "err", err)
		security.ObserveBroadcast(event.Name, "failed")
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.channels[event.Channel]))
	for c := range h.channels[event.Channel] {
		if event.ExcludeClient != "" && c.ID() == event.ExcludeClient {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.enqueue(frame) {
			security.ObserveBroadcast(event.Name, "delivered")
		} else {
			log.Warn("Dropping event for slow connection", "event", event.Name, "client", c.ID(), "userId", c.UserID())
			security.ObserveBroadcast(event.Name, "dropped")
		}
	}
}

var _ broadcast.Deliverer = (*Hub)(nil)
