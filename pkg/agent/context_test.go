package agent

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harun/nanobot/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 1x1 transparent PNG.
var tinyPNG, _ = base64.StdEncoding.DecodeString(
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII=")

func newBuilder(t *testing.T) (*ContextBuilder, string) {
	t.Helper()
	ws := t.TempDir()
	b, err := NewContextBuilder(ws, "")
	require.NoError(t, err)
	b.now = func() time.Time { return time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC) }
	return b, b.Workspace()
}

func TestContextBuilder_SystemPrompt(t *testing.T) {
	b, ws := newBuilder(t)

	t.Run("should start with identity", func(t *testing.T) {
		prompt := b.BuildSystemPrompt()
		assert.True(t, strings.HasPrefix(prompt, "# nanobot 🐈"))
		assert.Contains(t, prompt, "2025-03-14 09:30 (Friday)")
		assert.Contains(t, prompt, "Your workspace is at: "+ws)
		assert.NotContains(t, prompt, "# Memory")
	})

	t.Run("should include bootstrap files memory and skills in order", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(ws, "SOUL.md"), []byte("be kind"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(ws, "AGENTS.md"), []byte("agent rules"), 0o644))
		require.NoError(t, b.Memory().WriteLongTerm("likes tea"))
		writeSkill(t, ws, "greet", "---\ndescription: Greets people\nalways: true\n---\nSay hello.\n")
		b.Invalidate()

		parts := strings.Split(b.BuildSystemPrompt(), promptSeparator)
		require.Len(t, parts, 5)
		assert.Equal(t, "## AGENTS.md\n\nagent rules\n\n## SOUL.md\n\nbe kind", parts[1])
		assert.Equal(t, "# Memory\n\n## Long-term Memory\nlikes tea", parts[2])
		assert.Equal(t, "# Active Skills\n\n### Skill: greet\n\nSay hello.", parts[3])
		assert.True(t, strings.HasPrefix(parts[4], "# Skills\n\n"))
		assert.Contains(t, parts[4], "<name>greet</name>")
	})

	t.Run("should serve cached bootstrap files until invalidated", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(ws, "USER.md"), []byte("user info"), 0o644))
		assert.NotContains(t, b.BuildSystemPrompt(), "user info")

		b.Invalidate()
		assert.Contains(t, b.BuildSystemPrompt(), "## USER.md\n\nuser info")
	})
}

func TestContextBuilder_BuildMessages(t *testing.T) {
	b, ws := newBuilder(t)
	history := []session.HistoryEntry{
		{Role: "user", Content: "earlier"},
		{Role: "assistant", Content: "reply"},
	}

	t.Run("should wrap history between system and current", func(t *testing.T) {
		msgs := b.BuildMessages(history, "now", nil)
		require.Len(t, msgs, 4)
		assert.Equal(t, RoleSystem, msgs[0].Role)
		assert.Equal(t, "earlier", msgs[1].Content)
		assert.Equal(t, "reply", msgs[2].Content)
		assert.Equal(t, Message{Role: RoleUser, Content: "now"}, msgs[3])
	})

	t.Run("should attach images ahead of the text", func(t *testing.T) {
		img := filepath.Join(ws, "pic.png")
		txt := filepath.Join(ws, "doc.txt")
		require.NoError(t, os.WriteFile(img, tinyPNG, 0o644))
		require.NoError(t, os.WriteFile(txt, []byte("text"), 0o644))

		msgs := b.BuildMessages(nil, "what is this", []string{img, txt, filepath.Join(ws, "missing.jpg")})
		user := msgs[len(msgs)-1]
		require.Len(t, user.Parts, 2)
		assert.Equal(t, "image_url", user.Parts[0].Type)
		assert.True(t, strings.HasPrefix(user.Parts[0].ImageURL, "data:image/png;base64,"))
		assert.Equal(t, ContentPart{Type: "text", Text: "what is this"}, user.Parts[1])
		assert.Equal(t, "what is this", user.Content)
	})

	t.Run("should keep plain text when no media is an image", func(t *testing.T) {
		txt := filepath.Join(ws, "doc.txt")
		msgs := b.BuildMessages(nil, "read", []string{txt})
		assert.Empty(t, msgs[len(msgs)-1].Parts)
	})
}

func TestContextBuilder_AppendHelpers(t *testing.T) {
	b, _ := newBuilder(t)
	calls := []ToolCall{{ID: "1", Name: "list_dir", Arguments: map[string]any{"path": "."}}}

	msgs := b.AddAssistantMessage(nil, "", calls)
	msgs = b.AddToolResult(msgs, "1", "list_dir", "📄 a")

	require.Len(t, msgs, 2)
	assert.Equal(t, Message{Role: RoleAssistant, ToolCalls: calls}, msgs[0])
	assert.Equal(t, Message{Role: RoleTool, ToolCallID: "1", Name: "list_dir", Content: "📄 a"}, msgs[1])
}
