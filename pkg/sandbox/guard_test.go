package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard_Denylist(t *testing.T) {
	guard, err := NewGuard(GuardConfig{})
	require.NoError(t, err)

	blocked := []string{
		"rm -rf /",
		"RM -RF /tmp/x",
		"rm -f file.txt",
		"del /f C:\\thing",
		"rmdir /s build",
		"mkfs.ext4 /dev/sdb1",
		"dd if=/dev/zero of=/dev/sda",
		"echo hi > /dev/sda",
		"sudo shutdown now",
		":(){ :|:& };:",
	}
	for _, cmd := range blocked {
		t.Run("should block "+cmd, func(t *testing.T) {
			err := guard.Check(cmd, "/ws")
			assert.ErrorIs(t, err, ErrCommandBlocked)
			assert.Equal(t, ErrDangerousPattern, err)
		})
	}

	allowed := []string{"ls -la", "echo hello", "git status", "rm file.txt", "cat information.txt"}
	for _, cmd := range allowed {
		t.Run("should allow "+cmd, func(t *testing.T) {
			assert.NoError(t, guard.Check(cmd, "/ws"))
		})
	}
}

func TestGuard_ExtraDenyPatterns(t *testing.T) {
	guard, err := NewGuard(GuardConfig{DenyPatterns: []string{`\bcurl\b`}})
	require.NoError(t, err)

	assert.Equal(t, ErrDangerousPattern, guard.Check("curl example.com", "/ws"))
	// defaults are still active
	assert.Equal(t, ErrDangerousPattern, guard.Check("rm -rf x", "/ws"))
}

func TestGuard_Allowlist(t *testing.T) {
	guard, err := NewGuard(GuardConfig{AllowPatterns: []string{`^ls\b`, `^rm\b`}})
	require.NoError(t, err)

	t.Run("should allow matching command", func(t *testing.T) {
		assert.NoError(t, guard.Check("ls -la", "/ws"))
	})

	t.Run("should reject command outside allowlist", func(t *testing.T) {
		assert.Equal(t, ErrNotAllowlisted, guard.Check("cat file", "/ws"))
	})

	t.Run("should let denylist win over allowlist", func(t *testing.T) {
		assert.Equal(t, ErrDangerousPattern, guard.Check("rm -rf build", "/ws"))
	})
}

func TestGuard_InvalidPattern(t *testing.T) {
	_, err := NewGuard(GuardConfig{AllowPatterns: []string{"("}})
	assert.Error(t, err)
}

func TestGuard_Workspace(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, "sub"), 0o755))

	guard, err := NewGuard(GuardConfig{RestrictToWorkspace: true})
	require.NoError(t, err)
	assert.True(t, guard.RestrictsToWorkspace())

	t.Run("should reject traversal", func(t *testing.T) {
		assert.Equal(t, ErrPathTraversal, guard.Check("cat ../secret", ws))
		assert.Equal(t, ErrPathTraversal, guard.Check(`type ..\secret`, ws))
	})

	t.Run("should reject absolute path outside workspace", func(t *testing.T) {
		assert.Equal(t, ErrPathOutsideWorkspace, guard.Check("cat /etc/passwd", ws))
		assert.Equal(t, ErrPathOutsideWorkspace, guard.Check("ls; cat '/etc/hosts'", ws))
	})

	t.Run("should accept paths inside workspace", func(t *testing.T) {
		assert.NoError(t, guard.Check("cat "+filepath.Join(ws, "sub", "file.txt"), ws))
		assert.NoError(t, guard.Check("ls "+ws, ws))
	})

	t.Run("should ignore relative paths", func(t *testing.T) {
		assert.NoError(t, guard.Check("cat sub/dir/file.txt", ws))
	})

	t.Run("should reject windows drive paths off windows", func(t *testing.T) {
		if filepath.Separator == '\\' {
			t.Skip("windows resolves drive paths")
		}
		assert.Equal(t, ErrPathOutsideWorkspace, guard.Check(`type C:\Windows\win.ini`, ws))
	})

	t.Run("should follow symlinks out of workspace", func(t *testing.T) {
		outside := t.TempDir()
		link := filepath.Join(ws, "escape")
		if err := os.Symlink(outside, link); err != nil {
			t.Skipf("symlinks unavailable: %v", err)
		}
		assert.Equal(t, ErrPathOutsideWorkspace, guard.Check("cat "+filepath.Join(link, "x"), ws))
	})
}

func TestGuard_NoWorkspaceRestriction(t *testing.T) {
	guard, err := NewGuard(GuardConfig{})
	require.NoError(t, err)

	assert.NoError(t, guard.Check("cat /etc/passwd", "/ws"))
	assert.NoError(t, guard.Check("cat ../x", "/ws"))
}

func TestBlockMessage(t *testing.T) {
	assert.Equal(t,
		"Error: Command blocked by safety guard (dangerous pattern detected)",
		BlockMessage(ErrDangerousPattern))
	assert.Equal(t,
		"Error: Command blocked by safety guard (path outside working dir)",
		BlockMessage(ErrPathOutsideWorkspace))
	assert.Equal(t, "Error: Command blocked by safety guard", BlockMessage(errors.New("x")))
	assert.Contains(t, ErrNotAllowlisted.Error(), "not in allowlist")
}
