// Package bus decouples chat channels from the agent loop.
//
// Invariants:
// - Inbound and outbound are independent unbounded FIFO queues.
// - Publishing never blocks.
// - Outbound dispatch calls a channel's subscribers in registration order; a
//   failing subscriber does not stop delivery to the others.
//
// Usage:
//
//	mb := bus.NewMessageBus()
//	mb.Subscribe("telegram", func(ctx context.Context, msg bus.OutboundMessage) error {
//		return tg.Send(ctx, msg)
//	})
//	go mb.DispatchOutbound(ctx)
//	mb.PublishInbound(bus.InboundMessage{Channel: "cli", ChatID: "direct", Content: "hi"})
package bus
