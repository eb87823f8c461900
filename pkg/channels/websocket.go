package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/nanobot/internal/config"
	"github.com/harun/nanobot/pkg/bus"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// wsInbound is a frame sent by a websocket client.
type wsInbound struct {
	Content  string `json:"content"`
	SenderID string `json:"sender_id,omitempty"`
}

// wsOutbound is a frame sent to a websocket client. Type is "connected", "message" or
// "error".
type wsOutbound struct {
	Type    string `json:"type"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content,omitempty"`
}

// WebSocketChannel serves chat clients on the gateway's /ws endpoint. Each connection
// gets a nanoid that is its chat id.
type WebSocketChannel struct {
	*BaseChannel
	upgrader  websocket.Upgrader
	clients   *clientRegistry
	perMinute int

	stop     chan struct{}
	stopOnce sync.Once
}

// NewWebSocketChannel creates the channel. Mount it with http.Handle("/ws", ch).
func NewWebSocketChannel(cfg config.WebSocketConfig, mb *bus.MessageBus) *WebSocketChannel {
	return &WebSocketChannel{
		BaseChannel: NewBaseChannel("websocket", mb, cfg.AllowFrom),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   newClientRegistry(),
		perMinute: DefaultMessagesPerMinute,
		stop:      make(chan struct{}),
	}
}

// Start marks the channel running until ctx is done or Stop is called, then closes
// every client.
func (c *WebSocketChannel) Start(ctx context.Context) error {
	c.setRunning(true)
	select {
	case <-ctx.Done():
	case <-c.stop:
	}
	c.setRunning(false)

	for _, client := range c.clients.all() {
		_ = client.writeJSON(wsOutbound{Type: "error", ChatID: client.ID, Content: "server shutting down"})
		client.Conn.Close()
	}
	return nil
}

// Stop ends Start.
func (c *WebSocketChannel) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Send writes a reply to the client whose id is msg.ChatID.
func (c *WebSocketChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	client, ok := c.clients.get(msg.ChatID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, msg.ChatID)
	}
	if err := client.writeJSON(wsOutbound{Type: "message", ChatID: client.ID, Content: msg.Content}); err != nil {
		return fmt.Errorf("failed to write to client: %w", err)
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (c *WebSocketChannel) ClientCount() int {
	return c.clients.count()
}

// Clients describes the connected clients, oldest first.
func (c *WebSocketChannel) Clients() []ClientInfo {
	return c.clients.infos()
}

// ServeHTTP upgrades the request and reads client frames until the connection closes.
func (c *WebSocketChannel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !c.IsRunning() {
		http.Error(w, "websocket channel is not running", http.StatusServiceUnavailable)
		return
	}

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	id, err := gonanoid.New()
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to generate client id")
		conn.Close()
		return
	}

	client := &wsClient{
		ID:           id,
		Conn:         conn,
		IPAddress:    r.RemoteAddr,
		ConnectedAt:  time.Now(),
		Limiter:      newRateLimiter(c.perMinute),
		lastActivity: time.Now(),
	}
	c.clients.add(client)
	c.logger.Info().Str("client_id", id).Str("ip", r.RemoteAddr).Msg("Client connected")

	defer func() {
		conn.Close()
		c.clients.remove(id)
		c.logger.Info().Str("client_id", id).Msg("Client disconnected")
	}()

	if err := client.writeJSON(wsOutbound{Type: "connected", ChatID: id}); err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error().Err(err).Str("client_id", id).Msg("WebSocket error")
			}
			return
		}
		client.touch()
		c.handleFrame(client, data)
	}
}

func (c *WebSocketChannel) handleFrame(client *wsClient, data []byte) {
	var in wsInbound
	if err := json.Unmarshal(data, &in); err != nil {
		c.reject(client, "invalid JSON frame")
		return
	}
	if strings.TrimSpace(in.Content) == "" {
		c.reject(client, "content is required")
		return
	}
	if !client.Limiter.allow() {
		c.reject(client, "rate limit exceeded")
		return
	}

	sender := in.SenderID
	if sender == "" {
		sender = client.ID
	}
	if !c.HandleMessage(sender, client.ID, in.Content, nil, map[string]any{
		"client_id":   client.ID,
		"remote_addr": client.IPAddress,
	}) {
		c.reject(client, "sender not allowed")
	}
}

func (c *WebSocketChannel) reject(client *wsClient, reason string) {
	if err := client.writeJSON(wsOutbound{Type: "error", ChatID: client.ID, Content: reason}); err != nil {
		c.logger.Debug().Err(err).Str("client_id", client.ID).Msg("Failed to send error frame")
	}
}
