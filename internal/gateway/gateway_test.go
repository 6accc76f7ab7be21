package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gigmarket/chat-service/internal/plugin/broadcast/local"
	"github.com/gigmarket/chat-service/internal/registry/broadcast"
	"github.com/gigmarket/chat-service/internal/registry/store"
	"github.com/gigmarket/chat-service/internal/security"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fakeConversations struct {
	participants map[uuid.UUID][]string
}

func (f *fakeConversations) AuthorizeJoin(_ context.Context, conversationID uuid.UUID, userID string) error {
	members, ok := f.participants[conversationID]
	if !ok {
		return &store.NotFoundError{Resource: "conversation", ID: conversationID.String()}
	}
	for _, m := range members {
		if m == userID {
			return nil
		}
	}
	return &store.ForbiddenError{Reason: "not a participant"}
}

func newTestGateway(convs *fakeConversations) *Gateway {
	hub := NewHub()
	return New(Options{
		Hub:           hub,
		Authenticator: NewAuthenticator(security.NewSecretTokenResolver([]byte("secret")), nil, nil, false),
		Broadcaster:   local.New(hub),
		Conversations: convs,
		TypingRate:    1,
		TypingBurst:   2,
	})
}

func testClient(g *Gateway, userID string) *Client {
	c := newClient(&security.Identity{UserID: userID}, nil, 16, g.typingRate, g.typingBurst)
	g.hub.Register(c)
	return c
}

func frame(t *testing.T, event string, convID string) []byte {
	t.Helper()
	data, err := json.Marshal(Frame{Event: event, Data: json.RawMessage(`{"conversationId":"` + convID + `"}`)})
	require.NoError(t, err)
	return data
}

func drain(c *Client) []Frame {
	var frames []Frame
	for {
		select {
		case raw := <-c.send:
			var f Frame
			if err := json.Unmarshal(raw, &f); err == nil {
				frames = append(frames, f)
			}
		default:
			return frames
		}
	}
}

func eventNames(frames []Frame) []string {
	names := make([]string, len(frames))
	for i, f := range frames {
		names[i] = f.Event
	}
	return names
}

func TestGateway_JoinRejectsNonParticipant(t *testing.T) {
	convID := uuid.New()
	g := newTestGateway(&fakeConversations{participants: map[uuid.UUID][]string{convID: {"alice", "bob"}}})
	mallory := testClient(g, "mallory")

	g.HandleFrame(context.Background(), mallory, frame(t, EventJoinConversation, convID.String()))

	frames := drain(mallory)
	require.Len(t, frames, 1)
	assert.Equal(t, EventError, frames[0].Event)
	var errEvent ErrorEvent
	require.NoError(t, json.Unmarshal(frames[0].Data, &errEvent))
	assert.Equal(t, "not a participant of this conversation", errEvent.Message)
	assert.False(t, g.hub.Subscribed(mallory, broadcast.ConversationChannel(convID)))
	assert.Equal(t, 0, g.hub.Subscribers(broadcast.ConversationChannel(convID)))
}

func TestGateway_JoinUnknownConversation(t *testing.T) {
	g := newTestGateway(&fakeConversations{participants: map[uuid.UUID][]string{}})
	alice := testClient(g, "alice")

	g.HandleFrame(context.Background(), alice, frame(t, EventJoinConversation, uuid.NewString()))
	g.HandleFrame(context.Background(), alice, frame(t, EventJoinConversation, "not-a-uuid"))
	g.HandleFrame(context.Background(), alice, []byte("{"))

	frames := drain(alice)
	assert.Equal(t, []string{EventError, EventError, EventError}, eventNames(frames))
}

func TestGateway_JoinBroadcastsPresence(t *testing.T) {
	convID := uuid.New()
	g := newTestGateway(&fakeConversations{participants: map[uuid.UUID][]string{convID: {"alice", "bob"}}})
	alice := testClient(g, "alice")
	bob := testClient(g, "bob")
	ctx := context.Background()

	g.HandleFrame(ctx, alice, frame(t, EventJoinConversation, convID.String()))
	g.HandleFrame(ctx, bob, frame(t, EventJoinConversation, convID.String()))

	assert.Equal(t, []string{EventUserJoined, EventUserJoined}, eventNames(drain(alice)))
	bobFrames := drain(bob)
	require.Equal(t, []string{EventUserJoined}, eventNames(bobFrames))
	var presence PresenceEvent
	require.NoError(t, json.Unmarshal(bobFrames[0].Data, &presence))
	assert.Equal(t, "bob", presence.UserID)
	assert.Equal(t, convID, presence.ConversationID)

	g.HandleFrame(ctx, bob, frame(t, EventLeaveConversation, convID.String()))
	assert.Equal(t, []string{EventUserLeft}, eventNames(drain(alice)))
	assert.Empty(t, drain(bob))
	assert.False(t, g.hub.Subscribed(bob, broadcast.ConversationChannel(convID)))

	// Leaving twice is a no-op.
	g.HandleFrame(ctx, bob, frame(t, EventLeaveConversation, convID.String()))
	assert.Empty(t, drain(alice))
}

func TestGateway_TypingRelayExcludesOriginator(t *testing.T) {
	convID := uuid.New()
	g := newTestGateway(&fakeConversations{participants: map[uuid.UUID][]string{convID: {"alice", "bob"}}})
	alice := testClient(g, "alice")
	bob := testClient(g, "bob")
	secondAlice := testClient(g, "alice")
	ctx := context.Background()

	// Typing before joining is rejected.
	g.HandleFrame(ctx, alice, frame(t, EventTypingStart, convID.String()))
	assert.Equal(t, []string{EventError}, eventNames(drain(alice)))

	for _, c := range []*Client{alice, bob, secondAlice} {
		g.HandleFrame(ctx, c, frame(t, EventJoinConversation, convID.String()))
	}
	for _, c := range []*Client{alice, bob, secondAlice} {
		drain(c)
	}

	g.HandleFrame(ctx, alice, frame(t, EventTypingStart, convID.String()))
	g.HandleFrame(ctx, alice, frame(t, EventTypingStop, convID.String()))

	assert.Empty(t, drain(alice))
	assert.Equal(t, []string{EventUserTyping, EventUserStoppedTyping}, eventNames(drain(bob)))
	assert.Equal(t, []string{EventUserTyping, EventUserStoppedTyping}, eventNames(drain(secondAlice)))
}

func TestGateway_TypingRateLimited(t *testing.T) {
	convID := uuid.New()
	g := newTestGateway(&fakeConversations{participants: map[uuid.UUID][]string{convID: {"alice", "bob"}}})
	g.typingRate = rate.Every(time.Hour)
	alice := testClient(g, "alice")
	bob := testClient(g, "bob")
	ctx := context.Background()
	g.HandleFrame(ctx, alice, frame(t, EventJoinConversation, convID.String()))
	g.HandleFrame(ctx, bob, frame(t, EventJoinConversation, convID.String()))
	drain(bob)

	for i := 0; i < 5; i++ {
		g.HandleFrame(ctx, alice, frame(t, EventTypingStart, convID.String()))
	}
	assert.Len(t, drain(bob), g.typingBurst)
}

func TestGateway_UnknownEvent(t *testing.T) {
	g := newTestGateway(&fakeConversations{})
	alice := testClient(g, "alice")
	g.HandleFrame(context.Background(), alice, []byte(`{"event":"send_money"}`))
	frames := drain(alice)
	require.Len(t, frames, 1)
	assert.Equal(t, EventError, frames[0].Event)
}

func TestGateway_HandshakeOverWebsocket(t *testing.T) {
	convID := uuid.New()
	cfg := &fakeConversations{participants: map[uuid.UUID][]string{convID: {"alice", "bob"}}}
	hub := NewHub()
	g := New(Options{
		Hub:           hub,
		Authenticator: NewAuthenticator(nil, &fakeDirectory{known: map[string]bool{"alice": true}}, nil, true),
		Broadcaster:   local.New(hub),
		Conversations: cfg,
	})
	srv := httptest.NewServer(g)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?userId=alice", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame(t, EventJoinConversation, convID.String())))
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got Frame
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, EventUserJoined, got.Event)
	assert.Equal(t, 1, hub.Subscribers(broadcast.ConversationChannel(convID)))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Connections() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, hub.Subscribers(broadcast.ConversationChannel(convID)))
}
