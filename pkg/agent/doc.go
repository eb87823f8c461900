// Package agent runs the reason-act loop: it builds context, calls the model, executes
// requested tools and persists the exchange to the session store.
//
// Invariants:
// - Turns on one Loop are sequential. Each turn produces at most one outbound message.
// - Every tool call in an assistant entry has exactly one tool result before the next
//   model call. Calls without an id get one.
// - A turn makes at most MaxIterations model calls; hitting the cap yields a fallback reply.
// - A failed turn is logged in full and answered with a generic apology. Run never exits
//   because of a turn.
// - System messages (channel "system") route to the origin encoded in ChatID.
//
// Usage:
//
//	builder, _ := agent.NewContextBuilder(workspace, "")
//	loop, _ := agent.NewLoop(agent.LoopConfig{
//		Bus:      msgBus,
//		Provider: provider,
//		Sessions: sessions,
//		Context:  builder,
//	})
//	go loop.Run(ctx)
//	reply, _ := loop.ProcessDirect(ctx, "hello", "")
package agent
