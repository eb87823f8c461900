package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/nanobot/internal/observability"
	"github.com/rs/zerolog/log"
)

// PollInterval bounds each wait in DispatchOutbound so Stop is observed promptly.
const PollInterval = time.Second

const (
	queueInbound  = "inbound"
	queueOutbound = "outbound"
)

// MessageBus routes inbound messages to the agent and outbound replies to channels.
type MessageBus struct {
	inbound  *queue[InboundMessage]
	outbound *queue[OutboundMessage]

	subMu       sync.RWMutex
	subscribers map[string][]Subscriber

	stopped      atomic.Bool
	pollInterval time.Duration
}

// NewMessageBus creates an empty bus.
func NewMessageBus() *MessageBus {
	observability.EnsureRegistered()

	return &MessageBus{
		inbound:      newQueue[InboundMessage](),
		outbound:     newQueue[OutboundMessage](),
		subscribers:  make(map[string][]Subscriber),
		pollInterval: PollInterval,
	}
}

// PublishInbound enqueues a message for the agent.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	n := b.inbound.push(msg)
	observability.RecordBusPublish(queueInbound, n)
}

// ConsumeInbound blocks until an inbound message arrives or ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, error) {
	msg, n, err := b.inbound.pop(ctx)
	if err == nil {
		observability.SetBusQueueSize(queueInbound, n)
	}
	return msg, err
}

// PublishOutbound enqueues a reply for dispatch.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	n := b.outbound.push(msg)
	observability.RecordBusPublish(queueOutbound, n)
}

// ConsumeOutbound blocks until an outbound message arrives or ctx is done.
func (b *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, error) {
	msg, n, err := b.outbound.pop(ctx)
	if err == nil {
		observability.SetBusQueueSize(queueOutbound, n)
	}
	return msg, err
}

// Subscribe registers fn for outbound messages on channel.
func (b *MessageBus) Subscribe(channel string, fn Subscriber) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.subscribers[channel] = append(b.subscribers[channel], fn)
}

// DispatchOutbound delivers outbound messages to subscribers until ctx is
// done or Stop is called. Run it in its own goroutine.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	log.Info().Msg("Outbound dispatcher started")
	defer log.Info().Msg("Outbound dispatcher stopped")

	for !b.stopped.Load() {
		if ctx.Err() != nil {
			return
		}

		waitCtx, cancel := context.WithTimeout(ctx, b.pollInterval)
		msg, err := b.ConsumeOutbound(waitCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			return
		}

		b.deliver(ctx, msg)
	}
}

func (b *MessageBus) deliver(ctx context.Context, msg OutboundMessage) {
	b.subMu.RLock()
	subs := append([]Subscriber(nil), b.subscribers[msg.Channel]...)
	b.subMu.RUnlock()

	if len(subs) == 0 {
		log.Debug().Str("channel", msg.Channel).Str("chat_id", msg.ChatID).Msg("No subscriber for outbound message, dropping")
		return
	}

	for _, fn := range subs {
		err := callSubscriber(ctx, fn, msg)
		observability.RecordBusDelivery(msg.Channel, err == nil)
		if err != nil {
			log.Error().
				Err(err).
				Str("channel", msg.Channel).
				Str("chat_id", msg.ChatID).
				Msg("Error dispatching to channel")
		}
	}
}

func callSubscriber(ctx context.Context, fn Subscriber, msg OutboundMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return fn(ctx, msg)
}

// Stop asks DispatchOutbound to return after its current poll.
func (b *MessageBus) Stop() {
	b.stopped.Store(true)
}

// InboundSize returns the number of pending inbound messages.
func (b *MessageBus) InboundSize() int {
	return b.inbound.len()
}

// OutboundSize returns the number of pending outbound messages.
func (b *MessageBus) OutboundSize() int {
	return b.outbound.len()
}
