package channels

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/harun/nanobot/pkg/bus"
)

// DirectChannel is the "cli" channel of a running gateway. It has no inbound side;
// replies addressed to cli (cron jobs without a target, for example) are written to w.
type DirectChannel struct {
	*BaseChannel
	mu sync.Mutex
	w  io.Writer
	// stop is closed by Stop.
	stop     chan struct{}
	stopOnce sync.Once
}

// NewDirectChannel creates the cli channel writing to w.
func NewDirectChannel(mb *bus.MessageBus, w io.Writer) *DirectChannel {
	return &DirectChannel{
		BaseChannel: NewBaseChannel("cli", mb, nil),
		w:           w,
		stop:        make(chan struct{}),
	}
}

// Start blocks until ctx is done or Stop is called.
func (c *DirectChannel) Start(ctx context.Context) error {
	c.setRunning(true)
	defer c.setRunning(false)

	select {
	case <-ctx.Done():
	case <-c.stop:
	}
	return nil
}

// Stop releases Start.
func (c *DirectChannel) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Send writes the reply with its chat id.
func (c *DirectChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.w, "[%s] %s\n", msg.ChatID, msg.Content); err != nil {
		return fmt.Errorf("failed to write reply: %w", err)
	}
	return nil
}
