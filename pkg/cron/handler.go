package cron

import (
	"context"
	"time"

	"github.com/harun/nanobot/pkg/bus"
)

const (
	// SenderID marks inbound messages published by the scheduler.
	SenderID = "cron"

	defaultChannel = "cli"
	defaultChatID  = "direct"
)

// Target returns the "channel:chat_id" the agent's reply goes to. Jobs that do not
// deliver, or name no recipient, answer on cli:direct.
func Target(p Payload) string {
	if !p.Deliver || p.To == "" {
		return defaultChannel + ":" + defaultChatID
	}
	channel := p.Channel
	if channel == "" {
		channel = defaultChannel
	}
	return channel + ":" + p.To
}

// NewBusHandler returns a Handler that hands due jobs to the agent loop as system
// messages.
func NewBusHandler(mb *bus.MessageBus) Handler {
	return func(_ context.Context, job Job) error {
		mb.PublishInbound(bus.InboundMessage{
			Channel:   bus.SystemChannel,
			SenderID:  SenderID,
			ChatID:    Target(job.Payload),
			Content:   job.Payload.Message,
			Timestamp: time.Now(),
			Metadata: map[string]any{
				"job_id":   job.ID,
				"job_name": job.Name,
			},
		})
		return nil
	}
}
