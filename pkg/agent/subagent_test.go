package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/harun/nanobot/pkg/bus"
	"github.com/harun/nanobot/pkg/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingProvider waits for its context before answering.
type blockingProvider struct {
	started chan struct{}
}

func (p *blockingProvider) Chat(ctx context.Context, _ ChatRequest) (*LLMResponse, error) {
	p.started <- struct{}{}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (p *blockingProvider) DefaultModel() string { return "blocking" }
func (p *blockingProvider) Provider() string     { return "blocking" }

func nextInbound(t *testing.T, mb *bus.MessageBus) bus.InboundMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := mb.ConsumeInbound(ctx)
	require.NoError(t, err)
	return msg
}

func TestSubagentManager_Spawn(t *testing.T) {
	t.Run("should announce the result to the origin", func(t *testing.T) {
		mb := bus.NewMessageBus()
		provider := script(reply("Found 3 files."))
		m := NewSubagentManager(SubagentConfig{
			Provider:   provider,
			Bus:        mb,
			Tools:      ToolOptions{Workspace: t.TempDir()},
			RetryDelay: time.Millisecond,
		})
		defer m.Close()

		ack, err := m.Spawn(context.Background(), "count the files in the workspace please", "", "telegram", "42")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(ack, "Subagent [count the files in the workspa...] started (id: "))

		msg := nextInbound(t, mb)
		assert.Equal(t, bus.SystemChannel, msg.Channel)
		assert.Equal(t, "subagent", msg.SenderID)
		assert.Equal(t, "telegram:42", msg.ChatID)
		assert.Contains(t, msg.Content, "completed successfully]")
		assert.Contains(t, msg.Content, "Task: count the files in the workspace please")
		assert.Contains(t, msg.Content, "Result:\nFound 3 files.")

		assert.Eventually(t, func() bool { return m.RunningCount() == 0 }, time.Second, 10*time.Millisecond)

		calls := provider.calls()
		require.Len(t, calls, 1)
		assert.Equal(t, "scripted-model", calls[0].Model)
		names := make([]string, 0, len(calls[0].Tools))
		for _, def := range calls[0].Tools {
			name, _, _ := functionDef(def)
			names = append(names, name)
		}
		assert.NotContains(t, names, "message")
		assert.NotContains(t, names, "spawn")
		assert.Contains(t, names, "exec")
	})

	t.Run("should report failures", func(t *testing.T) {
		mb := bus.NewMessageBus()
		m := NewSubagentManager(SubagentConfig{
			Provider:   script(fail(assert.AnError)),
			Bus:        mb,
			Tools:      ToolOptions{Workspace: t.TempDir()},
			RetryDelay: time.Millisecond,
		})
		defer m.Close()

		_, err := m.Spawn(context.Background(), "task", "short", "", "")
		require.NoError(t, err)

		msg := nextInbound(t, mb)
		assert.Equal(t, "cli:direct", msg.ChatID)
		assert.True(t, strings.HasPrefix(msg.Content, "[Subagent 'short' failed]"))
		assert.Contains(t, msg.Content, "Error: ")
	})

	t.Run("should require a provider and bus", func(t *testing.T) {
		m := NewSubagentManager(SubagentConfig{})
		_, err := m.Spawn(context.Background(), "task", "", "cli", "direct")
		assert.ErrorIs(t, err, tools.ErrSpawnNotConfigured)
	})
}

func TestSubagentManager_Close(t *testing.T) {
	mb := bus.NewMessageBus()
	provider := &blockingProvider{started: make(chan struct{}, 1)}
	m := NewSubagentManager(SubagentConfig{
		Provider: provider,
		Bus:      mb,
		Tools:    ToolOptions{Workspace: t.TempDir()},
	})

	_, err := m.Spawn(context.Background(), "wait forever", "", "cli", "direct")
	require.NoError(t, err)
	<-provider.started
	assert.Equal(t, 1, m.RunningCount())

	m.Close()
	assert.Equal(t, 0, m.RunningCount())
	assert.Equal(t, 0, mb.InboundSize())

	t.Run("should refuse new tasks after close", func(t *testing.T) {
		_, err := m.Spawn(context.Background(), "late", "", "cli", "direct")
		assert.ErrorIs(t, err, ErrManagerClosed)
	})
}
