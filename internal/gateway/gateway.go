package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gigmarket/chat-service/internal/registry/broadcast"
	"github.com/gigmarket/chat-service/internal/registry/store"
	"github.com/gigmarket/chat-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Conversations validates conversation channel joins.
type Conversations interface {
	// AuthorizeJoin returns a *store.NotFoundError for unknown conversations and a
	// *store.ForbiddenError when userID is not a participant.
	AuthorizeJoin(ctx context.Context, conversationID uuid.UUID, userID string) error
}

// IdentityRecorder mirrors identities resolved at handshake time.
type IdentityRecorder interface {
	Remember(ctx context.Context, id *security.Identity) error
}

// Options configures a Gateway.
type Options struct {
	Hub           *Hub
	Authenticator *Authenticator
	Broadcaster   broadcast.Broadcaster
	Conversations Conversations
	// Recorder is optional.
	Recorder       IdentityRecorder
	AllowedOrigins map[string]bool
	SendBuffer     int
	TypingRate     float64
	TypingBurst    int
}

// Gateway upgrades authenticated HTTP requests to websocket connections and
// dispatches their inbound events.
type Gateway struct {
	hub           *Hub
	auth          *Authenticator
	broadcaster   broadcast.Broadcaster
	conversations Conversations
	recorder      IdentityRecorder
	upgrader      websocket.Upgrader
	sendBuffer    int
	typingRate    rate.Limit
	typingBurst   int
}

// New creates a Gateway.
func New(opts Options) *Gateway {
	g := &Gateway{
		hub:           opts.Hub,
		auth:          opts.Authenticator,
		broadcaster:   opts.Broadcaster,
		conversations: opts.Conversations,
		recorder:      opts.Recorder,
		sendBuffer:    opts.SendBuffer,
		typingRate:    rate.Limit(opts.TypingRate),
		typingBurst:   opts.TypingBurst,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	if g.typingRate <= 0 {
		g.typingRate = rate.Inf
	}
	if g.typingBurst <= 0 {
		g.typingBurst = 1
	}
	if len(opts.AllowedOrigins) > 0 {
		origins := opts.AllowedOrigins
		g.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || origins["*"] || origins[origin]
		}
	}
	return g
}

// Hub returns the hub connections are registered with.
func (g *Gateway) Hub() *Hub { return g.hub }

// Handle is the gin handler for the websocket endpoint.
func (g *Gateway) Handle(c *gin.Context) {
	g.ServeHTTP(c.Writer, c.Request)
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := g.auth.Authenticate(r)
	if err != nil {
		log.Info("Websocket handshake rejected", "remote", r.RemoteAddr, "err", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(gin.H{"code": "unauthenticated", "error": err.Error()})
		return
	}
	if g.recorder != nil {
		if err := g.recorder.Remember(r.Context(), identity); err != nil {
			log.Warn("Failed to refresh user profile", "userId", identity.UserID, "err", err)
		}
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		log.Info("Websocket upgrade failed", "userId", identity.UserID, "err", err)
		return
	}

	client := newClient(identity, conn, g.sendBuffer, g.typingRate, g.typingBurst)
	g.hub.Register(client)
	log.Info("Websocket connected", "client", client.ID(), "userId", client.UserID())

	go client.writePump()
	ctx := context.WithoutCancel(r.Context())
	client.readPump(func(frame []byte) {
		g.HandleFrame(ctx, client, frame)
	})

	g.hub.Unregister(client)
	client.close()
	log.Info("Websocket disconnected", "client", client.ID(), "userId", client.UserID())
}

// HandleFrame processes one inbound frame for c.
func (g *Gateway) HandleFrame(ctx context.Context, c *Client, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.sendEvent(EventError, ErrorEvent{Message: "malformed frame"})
		return
	}

	switch frame.Event {
	case EventJoinConversation:
		g.join(ctx, c, frame)
	case EventLeaveConversation:
		g.leave(ctx, c, frame)
	case EventTypingStart:
		g.typing(ctx, c, frame, EventUserTyping)
	case EventTypingStop:
		g.typing(ctx, c, frame, EventUserStoppedTyping)
	default:
		c.sendEvent(EventError, ErrorEvent{Message: "unknown event", Event: frame.Event})
	}
}

func (g *Gateway) conversationID(c *Client, frame Frame) (uuid.UUID, bool) {
	var ref ConversationRef
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &ref); err != nil {
			c.sendEvent(EventError, ErrorEvent{Message: "malformed payload", Event: frame.Event})
			return uuid.Nil, false
		}
	}
	id, err := uuid.Parse(ref.ConversationID)
	if err != nil {
		c.sendEvent(EventError, ErrorEvent{Message: "invalid conversationId", Event: frame.Event, ConversationID: ref.ConversationID})
		return uuid.Nil, false
	}
	return id, true
}

func (g *Gateway) join(ctx context.Context, c *Client, frame Frame) {
	convID, ok := g.conversationID(c, frame)
	if !ok {
		return
	}
	if err := g.conversations.AuthorizeJoin(ctx, convID, c.UserID()); err != nil {
		c.sendEvent(EventError, ErrorEvent{Message: joinErrorMessage(err), Event: frame.Event, ConversationID: convID.String()})
		return
	}
	g.hub.Subscribe(c, broadcast.ConversationChannel(convID))
	g.publish(ctx, broadcast.ConversationChannel(convID), EventUserJoined, PresenceEvent{ConversationID: convID, UserID: c.UserID()}, "")
}

func joinErrorMessage(err error) string {
	var notFound *store.NotFoundError
	var forbidden *store.ForbiddenError
	switch {
	case errors.As(err, &notFound):
		return "conversation not found"
	case errors.As(err, &forbidden):
		return "not a participant of this conversation"
	default:
		log.Error("Join check failed", "err", err)
		return "unable to join conversation"
	}
}

func (g *Gateway) leave(ctx context.Context, c *Client, frame Frame) {
	convID, ok := g.conversationID(c, frame)
	if !ok {
		return
	}
	ch := broadcast.ConversationChannel(convID)
	if !g.hub.Subscribed(c, ch) {
		return
	}
	g.hub.Unsubscribe(c, ch)
	g.publish(ctx, ch, EventUserLeft, PresenceEvent{ConversationID: convID, UserID: c.UserID()}, "")
}

func (g *Gateway) typing(ctx context.Context, c *Client, frame Frame, outbound string) {
	convID, ok := g.conversationID(c, frame)
	if !ok {
		return
	}
	ch := broadcast.ConversationChannel(convID)
	if !g.hub.Subscribed(c, ch) {
		c.sendEvent(EventError, ErrorEvent{Message: "join the conversation first", Event: frame.Event, ConversationID: convID.String()})
		return
	}
	if !c.typing.Allow() {
		log.Debug("Typing event rate limited", "client", c.ID(), "userId", c.UserID())
		return
	}
	g.publish(ctx, ch, outbound, PresenceEvent{ConversationID: convID, UserID: c.UserID()}, c.ID())
}

func (g *Gateway) publish(ctx context.Context, ch broadcast.ChannelID, name string, data interface{}, exclude string) {
	event, err := broadcast.NewEvent(ch, name, data)
	if err != nil {
		log.Error("Failed to build event", "event", name, "err", err)
		return
	}
	event.ExcludeClient = exclude
	if err := g.broadcaster.Publish(ctx, event); err != nil {
		log.Warn("Broadcast failed", "event", name, "channel", ch, "err", err)
		security.ObserveBroadcast(name, "failed")
	}
}
