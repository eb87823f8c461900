package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

// DefaultDenyPatterns block recursive deletes, disk formatting, raw disk
// writes, power control and fork bombs.
var DefaultDenyPatterns = []string{
	`\brm\s+-[rf]{1,2}\b`,
	`\bdel\s+/[fq]\b`,
	`\brmdir\s+/s\b`,
	`\b(format|mkfs|diskpart)\b`,
	`\bdd\s+if=`,
	`>\s*/dev/sd`,
	`\b(shutdown|reboot|poweroff)\b`,
	`:\(\)\s*\{.*\};\s*:`,
}

var (
	windowsPathPattern = regexp.MustCompile(`[A-Za-z]:\\[^\\"']+`)
	// An absolute POSIX path starts at a token boundary so relative paths
	// like sub/dir are not mistaken for /dir.
	posixPathPattern = regexp.MustCompile("(?:^|[\\s\"'=<>|;&(`])(/[^\\s\"']+)")
)

// GuardConfig configures a Guard.
type GuardConfig struct {
	// DenyPatterns are appended to DefaultDenyPatterns.
	DenyPatterns []string
	// AllowPatterns, when non-empty, must match for a command to run.
	AllowPatterns []string
	// RestrictToWorkspace confines absolute paths to the working directory.
	RestrictToWorkspace bool
}

// Guard is the pre-execution safety check for shell commands.
type Guard struct {
	deny                []*regexp.Regexp
	allow               []*regexp.Regexp
	restrictToWorkspace bool
}

// NewGuard compiles the configured patterns.
func NewGuard(cfg GuardConfig) (*Guard, error) {
	deny, err := compilePatterns(append(append([]string{}, DefaultDenyPatterns...), cfg.DenyPatterns...))
	if err != nil {
		return nil, fmt.Errorf("failed to compile deny patterns: %w", err)
	}
	allow, err := compilePatterns(cfg.AllowPatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to compile allow patterns: %w", err)
	}

	return &Guard{
		deny:                deny,
		allow:               allow,
		restrictToWorkspace: cfg.RestrictToWorkspace,
	}, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// RestrictsToWorkspace reports whether workspace confinement is on.
func (g *Guard) RestrictsToWorkspace() bool {
	return g.restrictToWorkspace
}

// Check returns nil when command may run in workingDir, or a *BlockedError.
func (g *Guard) Check(command, workingDir string) error {
	cmd := strings.TrimSpace(command)
	lower := strings.ToLower(cmd)

	for _, re := range g.deny {
		if re.MatchString(lower) {
			return ErrDangerousPattern
		}
	}

	if len(g.allow) > 0 {
		allowed := false
		for _, re := range g.allow {
			if re.MatchString(lower) {
				allowed = true
				break
			}
		}
		if !allowed {
			return ErrNotAllowlisted
		}
	}

	if g.restrictToWorkspace {
		if strings.Contains(cmd, "../") || strings.Contains(cmd, `..\`) {
			return ErrPathTraversal
		}

		root := resolvePath(workingDir)

		for _, raw := range windowsPathPattern.FindAllString(cmd, -1) {
			if runtime.GOOS != "windows" {
				return ErrPathOutsideWorkspace
			}
			if !isWithin(resolvePath(raw), root) {
				return ErrPathOutsideWorkspace
			}
		}

		for _, m := range posixPathPattern.FindAllStringSubmatch(cmd, -1) {
			if !isWithin(resolvePath(m[1]), root) {
				return ErrPathOutsideWorkspace
			}
		}
	}

	return nil
}

// resolvePath makes p absolute and resolves symlinks on the longest existing prefix.
func resolvePath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}

	existing := abs
	var rest []string
	for {
		if resolved, err := filepath.EvalSymlinks(existing); err == nil {
			return filepath.Join(append([]string{resolved}, rest...)...)
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return abs
		}
		rest = append([]string{filepath.Base(existing)}, rest...)
		existing = parent
	}
}

func isWithin(path, root string) bool {
	if path == root {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)) && !filepath.IsAbs(rel)
}
