package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chatterbox/internal/models"
	"chatterbox/internal/observability"
	"chatterbox/internal/service"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	// Max connections per user
	maxConnsPerUser = 12
	// Max total connections
	maxTotalConns = 10000

	frameTimeout = 5 * time.Second
)

var (
	chatTopics = map[string]bool{
		service.TopicMessages: true,
		service.TopicReads:    true,
		service.TopicTyping:   true,
		service.TopicEvents:   true,
	}
	userTopics = map[string]bool{
		service.TopicEvents:   true,
		service.TopicPresence: true,
		service.TopicSignal:   true,
	}
)

// ChatGuard authorizes chat topics and call signals.
type ChatGuard interface {
	GetChat(ctx context.Context, userID, chatID uint) (*models.Chat, error)
	CanCall(ctx context.Context, userID, calleeID uint) error
}

// BlockChecker reports blocks in either direction.
type BlockChecker interface {
	IsBlocked(ctx context.Context, a, b uint) (bool, error)
}

// Presence receives session lifecycles and typing updates.
type Presence interface {
	Connect(ctx context.Context, userID uint, sessionID string) error
	Disconnect(ctx context.Context, userID uint, sessionID string) error
	Heartbeat(ctx context.Context, userID uint) error
	StartTyping(ctx context.Context, userID, chatID uint) error
	StopTyping(ctx context.Context, userID, chatID uint) error
}

// ReadMarker records read receipts sent over the socket.
type ReadMarker interface {
	MarkRead(ctx context.Context, userID, chatID, upTo uint) (*service.ReadReceipt, error)
}

// HubConfig wires the hub to the services it calls.
type HubConfig struct {
	Chats     ChatGuard
	Blocks    BlockChecker
	Presence  Presence
	Reads     ReadMarker
	Publisher service.Publisher

	// OfflineGrace delays presence disconnects. Zero uses the default,
	// negative disconnects immediately.
	OfflineGrace time.Duration
}

// CallSignal is relayed to /topic/users.{callee}.signal.
type CallSignal struct {
	FromUserID uint            `json:"from_user_id"`
	Payload    json.RawMessage `json:"payload"`
}

// Hub tracks the WebSocket clients of this node and their subscriptions.
type Hub struct {
	mu         sync.RWMutex
	conns      map[uint]map[*Client]struct{}
	subs       map[string]map[*Client]string
	totalConns int

	cfg      HubConfig
	sessions *sessionTracker
	log      *observability.WSLogger
}

// NewHub creates a new Hub.
func NewHub(cfg HubConfig) *Hub {
	grace := cfg.OfflineGrace
	if grace == 0 {
		grace = defaultOfflineGrace
	}
	return &Hub{
		conns:    make(map[uint]map[*Client]struct{}),
		subs:     make(map[string]map[*Client]string),
		cfg:      cfg,
		sessions: newSessionTracker(cfg.Presence, grace),
		log:      observability.NewWSLogger("gateway"),
	}
}

// Name returns a human-readable identifier for this hub.
func (h *Hub) Name() string { return "gateway" }

// Register a connection for a given userID. Returns the Client or error if
// limits are exceeded. The client receives a CONNECTED frame.
func (h *Hub) Register(ctx context.Context, userID uint, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	if h.totalConns >= maxTotalConns {
		h.mu.Unlock()
		return nil, errors.New("server connection limit reached")
	}
	m, ok := h.conns[userID]
	if !ok {
		m = make(map[*Client]struct{})
		h.conns[userID] = m
	}
	if len(m) >= maxConnsPerUser {
		h.mu.Unlock()
		return nil, errors.New("user connection limit reached")
	}

	client := NewClient(h, conn, userID, uuid.NewString())
	client.IncomingHandler = h.handleFrame
	client.OnActivity = func(c *Client) {
		h.sessions.heartbeat(context.Background(), c.UserID)
	}
	m[client] = struct{}{}
	h.totalConns++
	h.mu.Unlock()

	observability.WebSocketConnections.Inc()
	h.sessions.connect(ctx, userID, client.SessionID)
	h.log.LogConnect(ctx, userID, client.SessionID)
	client.sendFrame(Frame{Command: CommandConnected, Session: client.SessionID})
	return client, nil
}

// UnregisterClient drops the client and its subscriptions.
func (h *Hub) UnregisterClient(c *Client) {
	h.mu.Lock()
	removed := false
	if m, ok := h.conns[c.UserID]; ok {
		if _, exists := m[c]; exists {
			delete(m, c)
			h.totalConns--
			removed = true
			for id, dest := range c.subs {
				h.removeSub(c, dest)
				delete(c.subs, id)
			}
		}
		if len(m) == 0 {
			delete(h.conns, c.UserID)
		}
	}
	h.mu.Unlock()

	if removed {
		observability.WebSocketConnections.Dec()
		h.sessions.release(c.UserID, c.SessionID)
		h.log.LogDisconnect(context.Background(), c.UserID, c.SessionID, "closed")
	}
}

// IsConnected reports whether the user has a socket on this node.
func (h *Hub) IsConnected(userID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID]) > 0
}

// Subscribe authorizes dest for the client and registers it under id.
func (h *Hub) Subscribe(ctx context.Context, c *Client, id, dest string) error {
	if id == "" {
		return models.NewFieldError("id", "id is required")
	}
	if err := h.authorize(ctx, c.UserID, dest); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.UserID][c]; !ok {
		return models.NewUnauthorizedError("Session is closed")
	}
	if existing, ok := h.subs[dest][c]; ok && existing != id {
		return models.NewFieldError("destination", "Already subscribed to "+dest)
	}
	if old, ok := c.subs[id]; ok {
		h.removeSub(c, old)
	}
	c.subs[id] = dest
	set, ok := h.subs[dest]
	if !ok {
		set = make(map[*Client]string)
		h.subs[dest] = set
	}
	set[c] = id
	return nil
}

// Unsubscribe removes the client's subscription id.
func (h *Hub) Unsubscribe(c *Client, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	dest, ok := c.subs[id]
	if !ok {
		return models.NewNotFoundFieldError(map[string]string{"id": "Unknown subscription"})
	}
	delete(c.subs, id)
	h.removeSub(c, dest)
	return nil
}

// removeSub must be called with h.mu held.
func (h *Hub) removeSub(c *Client, dest string) {
	set, ok := h.subs[dest]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.subs, dest)
	}
}

func (h *Hub) authorize(ctx context.Context, userID uint, raw string) error {
	d, ok := parseTopic(raw)
	if !ok {
		return models.NewFieldError("destination", "Unknown destination")
	}
	switch d.scope {
	case scopeChat:
		if !chatTopics[d.topic] {
			return models.NewFieldError("destination", "Unknown chat topic")
		}
		if h.cfg.Chats == nil {
			return models.NewForbiddenError("Chat topics are unavailable")
		}
		_, err := h.cfg.Chats.GetChat(ctx, userID, d.id)
		return err
	default:
		if !userTopics[d.topic] {
			return models.NewFieldError("destination", "Unknown user topic")
		}
		if d.id == userID {
			return nil
		}
		if d.topic != service.TopicPresence {
			return models.NewForbiddenError("You can only subscribe to your own user topics")
		}
		if h.cfg.Blocks == nil {
			return nil
		}
		blocked, err := h.cfg.Blocks.IsBlocked(ctx, userID, d.id)
		if err != nil {
			return err
		}
		if blocked {
			return models.NewForbiddenError("You cannot follow this user's presence")
		}
		return nil
	}
}

// Deliver writes a MESSAGE frame to every local subscriber of dest and
// returns how many clients accepted it.
func (h *Hub) Deliver(dest string, body json.RawMessage) int {
	h.mu.RLock()
	n := 0
	for c, subID := range h.subs[dest] {
		if c.sendFrame(Frame{Command: CommandMessage, Destination: dest, Subscription: subID, Body: body}) {
			n++
		}
	}
	h.mu.RUnlock()

	h.afterDeliver(dest, body)
	return n
}

// afterDeliver cuts chat subscriptions once a member is removed or the chat
// is gone. The removal event itself still reaches the removed member.
func (h *Hub) afterDeliver(dest string, body json.RawMessage) {
	d, ok := parseTopic(dest)
	if !ok || d.scope != scopeChat || d.topic != service.TopicEvents {
		return
	}
	var ev struct {
		Type string `json:"type"`
		Data struct {
			UserID uint `json:"user_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &ev); err != nil {
		return
	}
	switch ev.Type {
	case service.EventMemberRemoved:
		if ev.Data.UserID != 0 {
			h.dropChatSubscriptions(d.id, ev.Data.UserID)
		}
	case service.EventChatDeleted:
		h.dropChatSubscriptions(d.id, 0)
	}
}

// dropChatSubscriptions removes subscriptions to the chat's topics, for one
// user or for everyone when userID is zero.
func (h *Hub) dropChatSubscriptions(chatID, userID uint) {
	prefix := ChatPrefix(chatID)
	h.mu.Lock()
	defer h.mu.Unlock()
	for dest, set := range h.subs {
		if !strings.HasPrefix(dest, prefix) {
			continue
		}
		for c, subID := range set {
			if userID != 0 && c.UserID != userID {
				continue
			}
			delete(c.subs, subID)
			delete(set, c)
		}
		if len(set) == 0 {
			delete(h.subs, dest)
		}
	}
}

// StartWiring connects the Notifier to this hub: every envelope published on
// any node is delivered to the matching local subscribers.
func (h *Hub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartSubscriber(ctx, func(channel, payload string) {
		var env Envelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil || env.Destination == "" {
			observability.GlobalLogger.Warn("invalid gateway envelope", slog.String("channel", channel))
			return
		}
		h.Deliver(env.Destination, env.Body)
	})
}

func (h *Hub) handleFrame(c *Client, raw []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()

	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		observability.WebSocketFrames.WithLabelValues("MALFORMED").Inc()
		c.sendFrame(Frame{Command: CommandError, Code: models.CodeBadRequest, Message: "Malformed frame"})
		return
	}
	observability.WebSocketFrames.WithLabelValues(commandLabel(f.Command)).Inc()
	h.log.LogFrame(ctx, c.UserID, f.Destination, f.Command)

	var err error
	switch f.Command {
	case CommandSubscribe:
		err = h.Subscribe(ctx, c, f.ID, f.Destination)
	case CommandUnsubscribe:
		err = h.Unsubscribe(c, f.ID)
	case CommandSend:
		err = h.dispatch(ctx, c, f)
	case CommandDisconnect:
		if f.Receipt != "" {
			c.sendFrame(Frame{Command: CommandReceipt, Receipt: f.Receipt})
		}
		c.Close()
		return
	default:
		err = models.NewFieldError("command", fmt.Sprintf("Unsupported command %q", f.Command))
	}
	if err != nil {
		h.fail(ctx, c, f, err)
		return
	}
	if f.Receipt != "" {
		c.sendFrame(Frame{Command: CommandReceipt, Receipt: f.Receipt})
	}
}

// dispatch routes a client SEND to its /app handler.
func (h *Hub) dispatch(ctx context.Context, c *Client, f Frame) error {
	d, ok := parseApp(f.Destination)
	if !ok {
		return models.NewFieldError("destination", "Unknown destination")
	}
	switch {
	case d.scope == scopeChat && d.topic == service.TopicTyping:
		var body struct {
			Typing *bool `json:"typing"`
		}
		if err := decodeBody(f.Body, &body); err != nil {
			return err
		}
		if h.cfg.Presence == nil {
			return nil
		}
		if body.Typing != nil && !*body.Typing {
			return h.cfg.Presence.StopTyping(ctx, c.UserID, d.id)
		}
		return h.cfg.Presence.StartTyping(ctx, c.UserID, d.id)

	case d.scope == scopeChat && d.topic == "read":
		var body struct {
			MessageID uint `json:"message_id"`
		}
		if err := decodeBody(f.Body, &body); err != nil {
			return err
		}
		if h.cfg.Reads == nil {
			return nil
		}
		_, err := h.cfg.Reads.MarkRead(ctx, c.UserID, d.id, body.MessageID)
		return err

	case d.scope == scopeCall && d.topic == service.TopicSignal:
		if h.cfg.Chats == nil || h.cfg.Publisher == nil {
			return models.NewForbiddenError("Calls are unavailable")
		}
		if len(f.Body) == 0 {
			return models.NewFieldError("body", "body is required")
		}
		if err := h.cfg.Chats.CanCall(ctx, c.UserID, d.id); err != nil {
			return err
		}
		return h.cfg.Publisher.PublishUser(ctx, d.id, service.TopicSignal, service.Event{
			Type: service.EventCallSignal,
			Data: CallSignal{FromUserID: c.UserID, Payload: f.Body},
		})
	}
	return models.NewFieldError("destination", "Unknown destination")
}

func decodeBody(raw json.RawMessage, dest interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return models.NewFieldError("body", "body is not valid JSON for this destination")
	}
	return nil
}

// fail answers a frame with an ERROR. Internal errors are logged and masked.
func (h *Hub) fail(ctx context.Context, c *Client, f Frame, err error) {
	out := Frame{Command: CommandError, Receipt: f.Receipt, Destination: f.Destination}
	var appErr *models.AppError
	if errors.As(err, &appErr) && appErr.Code != models.CodeInternal {
		out.Code = appErr.Code
		out.Message = appErr.Message
		out.Fields = appErr.Fields
	} else {
		h.log.LogError(ctx, c.UserID, f.Destination, err, f.Command)
		out.Code = models.CodeInternal
		out.Message = "Internal error"
	}
	c.sendFrame(out)
}

func commandLabel(command string) string {
	switch command {
	case CommandSubscribe, CommandUnsubscribe, CommandSend, CommandDisconnect:
		return command
	}
	return "UNKNOWN"
}

// Shutdown closes every client and releases all presence sessions.
func (h *Hub) Shutdown(_ context.Context) error {
	h.sessions.stop()

	h.mu.Lock()
	var clients []*Client
	for _, userConns := range h.conns {
		for c := range userConns {
			clients = append(clients, c)
		}
	}
	h.conns = make(map[uint]map[*Client]struct{})
	h.subs = make(map[string]map[*Client]string)
	h.totalConns = 0
	h.mu.Unlock()

	for _, c := range clients {
		observability.WebSocketConnections.Dec()
		h.sessions.release(c.UserID, c.SessionID)
		c.Close()
	}
	return nil
}
