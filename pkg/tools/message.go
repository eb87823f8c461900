package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/harun/nanobot/pkg/bus"
)

// SendFunc delivers an outbound message.
type SendFunc func(ctx context.Context, msg bus.OutboundMessage) error

// MessageTool lets the model send a message to a chat.
type MessageTool struct {
	mu             sync.RWMutex
	send           SendFunc
	defaultChannel string
	defaultChatID  string
}

// NewMessageTool creates message. send may be nil and set later.
func NewMessageTool(send SendFunc) *MessageTool {
	return &MessageTool{send: send}
}

// SetContext sets the default destination for the current turn.
func (t *MessageTool) SetContext(channel, chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.defaultChannel = channel
	t.defaultChatID = chatID
}

// SetSendCallback replaces the delivery function.
func (t *MessageTool) SetSendCallback(send SendFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.send = send
}

func (t *MessageTool) Name() string { return "message" }

func (t *MessageTool) Description() string {
	return "Send a message to the user. Use this when you want to communicate something."
}

func (t *MessageTool) Parameters() *Schema {
	return Object(map[string]*Schema{
		"content": String("The message content to send"),
		"channel": String("Optional: target channel (telegram, whatsapp, etc.)"),
		"chat_id": String("Optional: target chat/user ID"),
	}, "content")
}

func (t *MessageTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	content, err := requireString(params, "content")
	if err != nil {
		return "", err
	}

	t.mu.RLock()
	send := t.send
	channel := t.defaultChannel
	chatID := t.defaultChatID
	t.mu.RUnlock()

	if c := stringParam(params, "channel"); c != "" {
		channel = c
	}
	if id := stringParam(params, "chat_id"); id != "" {
		chatID = id
	}

	if channel == "" || chatID == "" {
		return "Error: No target channel/chat specified", nil
	}
	if send == nil {
		return "Error: Message sending not configured", nil
	}

	if err := send(ctx, bus.OutboundMessage{Channel: channel, ChatID: chatID, Content: content}); err != nil {
		return fmt.Sprintf("Error sending message: %v", err), nil
	}
	return fmt.Sprintf("Message sent to %s:%s", channel, chatID), nil
}
