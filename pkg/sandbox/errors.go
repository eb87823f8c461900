package sandbox

import "errors"

var (
	// ErrCommandBlocked is wrapped by every guard rejection
	ErrCommandBlocked = errors.New("command blocked by safety guard")

	// ErrDangerousPattern is returned when the command matches the denylist
	ErrDangerousPattern = &BlockedError{Reason: "dangerous pattern detected", Label: "dangerous_pattern"}

	// ErrNotAllowlisted is returned when an allowlist is set and nothing matches
	ErrNotAllowlisted = &BlockedError{Reason: "not in allowlist", Label: "not_allowlisted"}

	// ErrPathTraversal is returned for ../ or ..\ under workspace confinement
	ErrPathTraversal = &BlockedError{Reason: "path traversal detected", Label: "path_traversal"}

	// ErrPathOutsideWorkspace is returned for absolute paths outside the working directory
	ErrPathOutsideWorkspace = &BlockedError{Reason: "path outside working dir", Label: "outside_workspace"}

	// ErrExecutionTimeout is returned when execution times out
	ErrExecutionTimeout = errors.New("execution timed out")

	// ErrEmptyCommand is returned when there is nothing to run
	ErrEmptyCommand = errors.New("empty command")
)

// BlockedError is a guard rejection. Reason names the category, never the rule.
type BlockedError struct {
	Reason string
	Label  string // metric label
}

func (e *BlockedError) Error() string {
	return ErrCommandBlocked.Error() + " (" + e.Reason + ")"
}

func (e *BlockedError) Unwrap() error {
	return ErrCommandBlocked
}

// BlockMessage renders a guard rejection the way tools report it to the model.
func BlockMessage(err error) string {
	var blocked *BlockedError
	if errors.As(err, &blocked) {
		return "Error: Command blocked by safety guard (" + blocked.Reason + ")"
	}
	return "Error: Command blocked by safety guard"
}
