// Package sandbox guards and runs shell commands on behalf of the agent.
//
// Guard applies three ordered checks to a command line before it is spawned:
// a case-insensitive denylist, an optional allowlist and optional workspace
// confinement. The first failing check wins and only its category is
// reported back.
//
// The checks are pattern matching over the raw command text, not a security
// boundary. Quoting, globbing and variable expansion can defeat the
// workspace check, and nothing stops a determined model from writing a
// script and running it. Treat the guard as protection against accidents.
//
// Invariants:
// - A denylist match blocks even when an allowlist pattern also matches.
// - A command that outlives its timeout is killed together with its process group.
//
// Usage:
//
//	guard, _ := sandbox.NewGuard(sandbox.GuardConfig{RestrictToWorkspace: true})
//	if err := guard.Check("ls /etc", "/ws"); err != nil {
//		fmt.Println(sandbox.BlockMessage(err))
//	}
//	res, _ := sandbox.NewHostSandbox(60*time.Second).Execute(ctx, sandbox.ExecuteRequest{Command: "ls", WorkingDir: "/ws"})
//	_ = res
package sandbox
