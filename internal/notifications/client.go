package notifications

import (
	"log/slog"
	"sync"
	"time"

	"chatterbox/internal/observability"
	"chatterbox/internal/service"

	"github.com/gofiber/websocket/v2"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 16384

	// Outbound frames buffered per client before frames are dropped. One
	// extra slot is kept for the drop notice.
	sendBufferSize = 256
)

// dropNotice tells the client a frame was dropped so it can re-fetch.
var dropNotice = Frame{
	Command:     CommandMessage,
	Destination: "/user/queue/notices",
	Body:        []byte(`{"type":"` + service.EventDropped + `","data":{"reason":"buffer_full"}}`),
}.encode()

// WSHub is the side of the hub a client talks back to.
type WSHub interface {
	UnregisterClient(c *Client)
	Name() string
}

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	Hub WSHub

	// The websocket connection. Nil in tests.
	Conn *websocket.Conn

	// Buffered channel of outbound frames.
	Send chan []byte

	UserID    uint
	SessionID string

	// IncomingHandler is called for every text frame read.
	IncomingHandler func(*Client, []byte)

	// OnActivity is called on every pong.
	OnActivity func(*Client)

	// subscription id -> destination, guarded by the hub's lock.
	subs map[string]string

	closeOnce sync.Once
}

// NewClient creates a new Client instance
func NewClient(hub WSHub, conn *websocket.Conn, userID uint, sessionID string) *Client {
	return &Client{
		Hub:       hub,
		Conn:      conn,
		UserID:    userID,
		SessionID: sessionID,
		Send:      make(chan []byte, sendBufferSize+1),
		subs:      make(map[string]string),
	}
}

// ReadPump pumps frames from the websocket connection to the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.UnregisterClient(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		if c.OnActivity != nil {
			c.OnActivity(c)
		}
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				observability.GlobalLogger.Warn("websocket read failed",
					slog.Uint64("user_id", uint64(c.UserID)),
					slog.String("session_id", c.SessionID),
					slog.String("error", err.Error()),
				)
			}
			break
		}

		if c.IncomingHandler != nil {
			c.IncomingHandler(c, message)
		}
	}
}

// WritePump pumps frames from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues a frame without blocking. When the buffer is full the frame
// is dropped and a drop notice is queued if there is room for it.
func (c *Client) TrySend(message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			observability.WebSocketBackpressureDrops.WithLabelValues("closed").Inc()
		}
	}()

	if len(c.Send) < sendBufferSize {
		select {
		case c.Send <- message:
			return true
		default:
		}
	}

	observability.WebSocketBackpressureDrops.WithLabelValues("full").Inc()
	observability.GlobalLogger.Warn("websocket buffer full, frame dropped",
		slog.Uint64("user_id", uint64(c.UserID)),
		slog.String("session_id", c.SessionID),
	)
	select {
	case c.Send <- dropNotice:
	default:
	}
	return false
}

func (c *Client) sendFrame(f Frame) bool {
	return c.TrySend(f.encode())
}

// Close flushes queued frames and ends the connection. Safe to call twice.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Send)
	})
}
