package gateway

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gigmarket/chat-service/internal/security"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

// Client is one live connection. Frames are read and handled sequentially; writes
// go through a bounded buffer drained by a single writer goroutine.
type Client struct {
	id       string
	identity *security.Identity
	conn     *websocket.Conn
	send     chan []byte
	typing   *rate.Limiter

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(identity *security.Identity, conn *websocket.Conn, buffer int, typingRate rate.Limit, typingBurst int) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{
		id:       uuid.NewString(),
		identity: identity,
		conn:     conn,
		send:     make(chan []byte, buffer),
		typing:   rate.NewLimiter(typingRate, typingBurst),
		done:     make(chan struct{}),
	}
}

// ID uniquely identifies the connection across instances.
func (c *Client) ID() string { return c.id }

// UserID is the authenticated user behind the connection.
func (c *Client) UserID() string { return c.identity.UserID }

func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) sendEvent(event string, data interface{}) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		log.Error("Failed to encode event", "event", event, "err", err)
		return
	}
	if !c.enqueue(frame) {
		log.Warn("Dropping event for slow connection", "event", event, "client", c.id)
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug("Websocket write failed", "client", c.id, "err", err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// readPump blocks until the peer goes away, passing each frame to handle in order.
func (c *Client) readPump(handle func(frame []byte)) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Info("Websocket closed unexpectedly", "client", c.id, "userId", c.UserID(), "err", err)
			}
			return
		}
		handle(frame)
	}
}
