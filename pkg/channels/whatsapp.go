package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/nanobot/internal/config"
	"github.com/harun/nanobot/pkg/bus"
)

// DefaultReconnectDelay is the pause between bridge connection attempts.
const DefaultReconnectDelay = 5 * time.Second

// bridgeFrame is one JSON frame from the WhatsApp bridge.
type bridgeFrame struct {
	Type      string `json:"type"`
	Sender    string `json:"sender,omitempty"`
	Content   string `json:"content,omitempty"`
	ID        string `json:"id,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	IsGroup   bool   `json:"isGroup,omitempty"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

type bridgeSend struct {
	Type string `json:"type"`
	To   string `json:"to"`
	Text string `json:"text"`
}

// WhatsAppChannel is a websocket client of the WhatsApp bridge. It reconnects until
// stopped. Chat ids are the bridge's sender JIDs; sender ids are the phone part.
type WhatsAppChannel struct {
	*BaseChannel
	bridgeURL      string
	reconnectDelay time.Duration
	dialer         *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn

	stop     chan struct{}
	stopOnce sync.Once
}

// NewWhatsAppChannel creates the bridge client.
func NewWhatsAppChannel(cfg config.WhatsAppConfig, mb *bus.MessageBus) *WhatsAppChannel {
	url := cfg.BridgeURL
	if url == "" {
		url = "ws://localhost:3001"
	}
	return &WhatsAppChannel{
		BaseChannel:    NewBaseChannel("whatsapp", mb, cfg.AllowFrom),
		bridgeURL:      url,
		reconnectDelay: DefaultReconnectDelay,
		dialer:         websocket.DefaultDialer,
		stop:           make(chan struct{}),
	}
}

// Start connects to the bridge and reads frames, reconnecting after failures, until ctx
// is done or Stop is called.
func (c *WhatsAppChannel) Start(ctx context.Context) error {
	c.setRunning(true)
	defer c.setRunning(false)

	for {
		if c.done(ctx) {
			return nil
		}

		conn, _, err := c.dialer.DialContext(ctx, c.bridgeURL, nil)
		if err != nil {
			c.logger.Warn().Err(err).Str("url", c.bridgeURL).Msg("WhatsApp bridge connection failed, retrying")
			if !c.wait(ctx) {
				return nil
			}
			continue
		}
		c.logger.Info().Str("url", c.bridgeURL).Msg("Connected to WhatsApp bridge")

		c.setConn(conn)
		c.serve(ctx, conn)
		c.setConn(nil)

		if c.done(ctx) {
			return nil
		}
		c.logger.Warn().Msg("WhatsApp bridge disconnected, reconnecting")
		if !c.wait(ctx) {
			return nil
		}
	}
}

// Stop closes the bridge connection and ends Start.
func (c *WhatsAppChannel) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Send writes a send frame to the bridge.
func (c *WhatsAppChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotRunning
	}
	if err := c.conn.WriteJSON(bridgeSend{Type: "send", To: msg.ChatID, Text: msg.Content}); err != nil {
		return fmt.Errorf("failed to write to bridge: %w", err)
	}
	return nil
}

// serve reads frames until the connection fails or ctx/Stop closes it.
func (c *WhatsAppChannel) serve(ctx context.Context, conn *websocket.Conn) {
	closed := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-c.stop:
		case <-closed:
		}
		conn.Close()
	}()
	defer close(closed)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !c.done(ctx) {
				c.logger.Error().Err(err).Msg("WhatsApp bridge read failed")
			}
			return
		}
		c.handleFrame(data)
	}
}

func (c *WhatsAppChannel) handleFrame(data []byte) {
	var frame bridgeFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.logger.Warn().Err(err).Msg("Invalid frame from WhatsApp bridge")
		return
	}

	switch frame.Type {
	case "message":
		senderID, _, _ := strings.Cut(frame.Sender, "@")
		content := frame.Content
		if content == "[Voice Message]" {
			content = "[Voice Message: Transcription not available for WhatsApp yet]"
		}
		c.HandleMessage(senderID, frame.Sender, content, nil, map[string]any{
			"message_id": frame.ID,
			"timestamp":  frame.Timestamp,
			"is_group":   frame.IsGroup,
		})
	case "status":
		c.logger.Info().Str("status", frame.Status).Msg("WhatsApp bridge status")
	case "qr":
		c.logger.Info().Msg("Scan the QR code in the bridge terminal to connect WhatsApp")
	case "error":
		c.logger.Error().Str("error", frame.Error).Msg("WhatsApp bridge error")
	default:
		c.logger.Debug().Str("type", frame.Type).Msg("Ignoring bridge frame")
	}
}

func (c *WhatsAppChannel) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

func (c *WhatsAppChannel) done(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.stop:
		return true
	default:
		return false
	}
}

// wait sleeps for the reconnect delay. It returns false when ctx or Stop ended it.
func (c *WhatsAppChannel) wait(ctx context.Context) bool {
	t := time.NewTimer(c.reconnectDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-c.stop:
		return false
	case <-t.C:
		return true
	}
}
