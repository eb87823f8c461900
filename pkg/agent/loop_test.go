package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/harun/nanobot/pkg/bus"
	"github.com/harun/nanobot/pkg/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// Keep-alive connections of the SDK clients in provider tests.
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	)
}

func runLoop(t *testing.T, l *Loop) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	t.Cleanup(func() {
		l.Stop()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("loop did not stop")
		}
	})
}

func nextOutbound(t *testing.T, mb *bus.MessageBus) bus.OutboundMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := mb.ConsumeOutbound(ctx)
	require.NoError(t, err)
	return msg
}

func TestLoop_EndToEnd(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.workspace, "notes.md"), []byte("x"), 0o644))

	provider := script(
		callTool("c1", "list_dir", map[string]any{"path": f.workspace}),
		reply("You have one file: notes.md"),
	)
	l := f.loop(t, provider, 0)
	runLoop(t, l)

	f.bus.PublishInbound(bus.InboundMessage{Channel: "cli", SenderID: "user", ChatID: "direct", Content: "list files"})

	out := nextOutbound(t, f.bus)
	assert.Equal(t, "cli", out.Channel)
	assert.Equal(t, "direct", out.ChatID)
	assert.Equal(t, "You have one file: notes.md", out.Content)
	assert.Equal(t, 0, f.bus.OutboundSize())

	calls := provider.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "scripted-model", calls[0].Model)
	assert.Len(t, calls[0].Tools, 1)

	second := calls[1].Messages
	require.Len(t, second, 4)
	assert.Equal(t, RoleSystem, second[0].Role)
	assert.Equal(t, RoleUser, second[1].Role)
	assert.Equal(t, RoleAssistant, second[2].Role)
	require.Len(t, second[2].ToolCalls, 1)
	assert.Equal(t, "c1", second[2].ToolCalls[0].ID)
	assert.Equal(t, RoleTool, second[3].Role)
	assert.Equal(t, "c1", second[3].ToolCallID)
	assert.Equal(t, "list_dir", second[3].Name)
	assert.Contains(t, second[3].Content, "📄 notes.md")

	sess, err := f.sessions.Load("cli:direct")
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, "list files", sess.Messages[0].Content)
	assert.Equal(t, "You have one file: notes.md", sess.Messages[1].Content)
}

func TestLoop_IterationCap(t *testing.T) {
	f := newFixture(t)
	provider := script(callTool("", "list_dir", map[string]any{"path": "."}))
	l := f.loop(t, provider, 3)

	out, err := l.ProcessMessage(context.Background(), bus.InboundMessage{Channel: "cli", ChatID: "direct", Content: "loop forever"})
	require.NoError(t, err)
	assert.Equal(t, EmptyResponseFallback, out.Content)
	assert.Len(t, provider.calls(), 3)

	t.Run("should assign ids to calls without one", func(t *testing.T) {
		last := provider.calls()[2].Messages
		var ids []string
		for _, m := range last {
			for _, tc := range m.ToolCalls {
				ids = append(ids, tc.ID)
			}
		}
		require.Len(t, ids, 2)
		for _, id := range ids {
			assert.NotEmpty(t, id)
		}
		assert.NotEqual(t, ids[0], ids[1])
	})
}

func TestLoop_EmptyAnswerFallback(t *testing.T) {
	f := newFixture(t)
	l := f.loop(t, script(reply("")), 0)

	out, err := l.ProcessMessage(context.Background(), bus.InboundMessage{Channel: "telegram", ChatID: "7", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, EmptyResponseFallback, out.Content)
}

func TestLoop_SystemMessage(t *testing.T) {
	t.Run("should route to the origin encoded in chat id", func(t *testing.T) {
		f := newFixture(t)
		l := f.loop(t, script(reply("")), 0)

		out, err := l.ProcessMessage(context.Background(), bus.InboundMessage{
			Channel:  bus.SystemChannel,
			SenderID: "subagent",
			ChatID:   "telegram:42",
			Content:  "task done",
		})
		require.NoError(t, err)
		assert.Equal(t, "telegram", out.Channel)
		assert.Equal(t, "42", out.ChatID)
		assert.Equal(t, BackgroundTaskFallback, out.Content)

		sess, err := f.sessions.Load("telegram:42")
		require.NoError(t, err)
		require.Len(t, sess.Messages, 2)
		assert.Equal(t, "[System: subagent] task done", sess.Messages[0].Content)
	})

	t.Run("should default to cli without a separator", func(t *testing.T) {
		f := newFixture(t)
		l := f.loop(t, script(reply("ok")), 0)

		out, err := l.ProcessMessage(context.Background(), bus.InboundMessage{
			Channel:  bus.SystemChannel,
			SenderID: "cron",
			ChatID:   "direct",
			Content:  "reminder",
		})
		require.NoError(t, err)
		assert.Equal(t, "cli", out.Channel)
		assert.Equal(t, "direct", out.ChatID)
		assert.Equal(t, "ok", out.Content)
	})
}

func TestLoop_ErrorReply(t *testing.T) {
	t.Run("should apologise when the provider fails", func(t *testing.T) {
		f := newFixture(t)
		l := f.loop(t, script(fail(errors.New("invalid api key"))), 0)
		runLoop(t, l)

		f.bus.PublishInbound(bus.InboundMessage{Channel: "telegram", ChatID: "9", Content: "hi"})
		out := nextOutbound(t, f.bus)
		assert.Equal(t, "telegram", out.Channel)
		assert.Equal(t, "9", out.ChatID)
		assert.Equal(t, ErrorReply, out.Content)
	})

	t.Run("should survive a panicking provider and keep serving", func(t *testing.T) {
		f := newFixture(t)
		provider := script(
			func(ChatRequest) (*LLMResponse, error) { panic("kaboom") },
			reply("second answer"),
		)
		l := f.loop(t, provider, 0)
		runLoop(t, l)

		f.bus.PublishInbound(bus.InboundMessage{Channel: "cli", ChatID: "direct", Content: "one"})
		f.bus.PublishInbound(bus.InboundMessage{Channel: "cli", ChatID: "direct", Content: "two"})

		assert.Equal(t, ErrorReply, nextOutbound(t, f.bus).Content)
		assert.Equal(t, "second answer", nextOutbound(t, f.bus).Content)
	})
}

func TestLoop_RetriesTransientErrors(t *testing.T) {
	f := newFixture(t)
	provider := script(fail(errors.New("503 service unavailable")), reply("recovered"))
	l := f.loop(t, provider, 0)

	out, err := l.ProcessMessage(context.Background(), bus.InboundMessage{Channel: "cli", ChatID: "direct", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", out.Content)
	assert.Len(t, provider.calls(), 2)
}

type recordingSend struct {
	mu   sync.Mutex
	sent []bus.OutboundMessage
}

func (r *recordingSend) send(_ context.Context, msg bus.OutboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func TestLoop_SetsToolContext(t *testing.T) {
	f := newFixture(t)
	rec := &recordingSend{}
	require.NoError(t, f.registry.Register(tools.NewMessageTool(rec.send)))

	provider := script(
		callTool("m1", "message", map[string]any{"content": "ping"}),
		reply("sent"),
	)
	l := f.loop(t, provider, 0)

	_, err := l.ProcessMessage(context.Background(), bus.InboundMessage{Channel: "whatsapp", ChatID: "555", Content: "notify me"})
	require.NoError(t, err)

	require.Len(t, rec.sent, 1)
	assert.Equal(t, "whatsapp", rec.sent[0].Channel)
	assert.Equal(t, "555", rec.sent[0].ChatID)
	assert.Equal(t, "ping", rec.sent[0].Content)
}

func TestLoop_ProcessDirect(t *testing.T) {
	f := newFixture(t)
	l := f.loop(t, script(reply("hello back")), 0)

	t.Run("should use cli:direct by default", func(t *testing.T) {
		text, err := l.ProcessDirect(context.Background(), "hello", "")
		require.NoError(t, err)
		assert.Equal(t, "hello back", text)

		sess, err := f.sessions.Load(DirectSessionKey)
		require.NoError(t, err)
		assert.Len(t, sess.Messages, 2)
	})

	t.Run("should split a qualified session key", func(t *testing.T) {
		_, err := l.ProcessDirect(context.Background(), "hello", "telegram:99")
		require.NoError(t, err)

		_, err = f.sessions.Load("telegram:99")
		require.NoError(t, err)
	})

	t.Run("should feed history into the next turn", func(t *testing.T) {
		_, err := l.ProcessDirect(context.Background(), "again", "")
		require.NoError(t, err)

		msgs := l.provider.(*scriptedProvider).calls()
		last := msgs[len(msgs)-1].Messages
		// system, 2 history entries, current user message
		require.Len(t, last, 4)
		assert.Equal(t, "hello", last[1].Content)
		assert.Equal(t, "hello back", last[2].Content)
		assert.Equal(t, "again", last[3].Content)
	})
}

func TestNewLoop_DefaultTools(t *testing.T) {
	f := newFixture(t)
	l, err := NewLoop(LoopConfig{
		Bus:      f.bus,
		Provider: script(reply("")),
		Sessions: f.sessions,
		Context:  f.builder,
	})
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, []string{
		"read_file", "write_file", "edit_file", "list_dir", "exec",
		"web_search", "web_fetch", "message", "spawn",
	}, l.Registry().List())
	assert.Equal(t, "scripted-model", l.Model())

	t.Run("should reject missing dependencies", func(t *testing.T) {
		_, err := NewLoop(LoopConfig{Bus: f.bus})
		assert.Error(t, err)
	})
}

func TestResolveTarget(t *testing.T) {
	cases := []struct {
		msg     bus.InboundMessage
		channel string
		chatID  string
	}{
		{bus.InboundMessage{Channel: "telegram", ChatID: "1"}, "telegram", "1"},
		{bus.InboundMessage{Channel: "system", ChatID: "whatsapp:123@s.net"}, "whatsapp", "123@s.net"},
		{bus.InboundMessage{Channel: "system", ChatID: "ws:a:b"}, "ws", "a:b"},
		{bus.InboundMessage{Channel: "system", ChatID: "plain"}, "cli", "plain"},
	}
	for _, tc := range cases {
		channel, chatID := resolveTarget(tc.msg)
		assert.Equal(t, tc.channel, channel)
		assert.Equal(t, tc.chatID, chatID)
	}
}
