package channels

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/harun/nanobot/internal/observability"
	"github.com/harun/nanobot/pkg/bus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Channel is a chat front end (telegram, whatsapp, websocket, ...).
type Channel interface {
	Name() string
	// Start receives messages until ctx is done or Stop is called.
	Start(ctx context.Context) error
	Stop()
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
}

// BaseChannel carries the allow list and the bus publishing shared by every channel.
type BaseChannel struct {
	name    string
	bus     *bus.MessageBus
	allow   map[string]bool
	seen    *dedupCache
	running atomic.Bool
	logger  zerolog.Logger
}

// NewBaseChannel creates a BaseChannel. An empty allowFrom admits every sender.
func NewBaseChannel(name string, mb *bus.MessageBus, allowFrom []string) *BaseChannel {
	allow := make(map[string]bool, len(allowFrom))
	for _, id := range allowFrom {
		if id = strings.TrimSpace(id); id != "" {
			allow[id] = true
		}
	}
	return &BaseChannel{
		name:   name,
		bus:    mb,
		allow:  allow,
		seen:   newDedupCache(defaultDedupTTL),
		logger: log.With().Str("component", "channel").Str("channel", name).Logger(),
	}
}

// Name returns the channel name.
func (b *BaseChannel) Name() string {
	return b.name
}

// IsRunning reports whether Start is active.
func (b *BaseChannel) IsRunning() bool {
	return b.running.Load()
}

func (b *BaseChannel) setRunning(v bool) {
	b.running.Store(v)
}

// IsAllowed checks senderID against the allow list. Senders of the form "id|username"
// match when either part is listed.
func (b *BaseChannel) IsAllowed(senderID string) bool {
	if len(b.allow) == 0 {
		return true
	}
	if b.allow[senderID] {
		return true
	}
	if !strings.Contains(senderID, "|") {
		return false
	}
	for _, part := range strings.Split(senderID, "|") {
		if part != "" && b.allow[part] {
			return true
		}
	}
	return false
}

// HandleMessage publishes an inbound message when the sender is allowed.
// A metadata message_id already seen in the same chat is dropped as a redelivery.
// It reports whether the message was accepted.
func (b *BaseChannel) HandleMessage(senderID, chatID, content string, media []string, metadata map[string]any) bool {
	if !b.IsAllowed(senderID) {
		b.logger.Warn().Str("sender_id", senderID).Msg("Message from sender not in allow list, ignoring")
		observability.RecordChannelMessage(b.name, false)
		return false
	}

	if id, ok := metadata["message_id"]; ok && id != nil && id != "" && id != 0 {
		if b.seen.Seen(chatID + "/" + fmt.Sprint(id)) {
			b.logger.Debug().Str("chat_id", chatID).Interface("message_id", id).Msg("Dropping redelivered message")
			return false
		}
	}

	b.bus.PublishInbound(bus.InboundMessage{
		Channel:  b.name,
		SenderID: senderID,
		ChatID:   chatID,
		Content:  content,
		Media:    media,
		Metadata: metadata,
	})
	observability.RecordChannelMessage(b.name, true)
	return true
}
