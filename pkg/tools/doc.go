// Package tools defines the capabilities the model can call and the registry
// that validates and dispatches those calls.
//
// Invariants:
// - Registry.Execute always returns text. Unknown tools, invalid parameters,
//   returned errors and panics all become error strings the model can read.
// - Parameter validation reports every violation, not only the first.
// - Definitions and List follow registration order.
//
// Usage:
//
//	reg := tools.NewRegistry()
//	_ = reg.Register(tools.NewReadFileTool(""))
//	out := reg.Execute(ctx, "read_file", map[string]any{"path": "notes.md"})
package tools
