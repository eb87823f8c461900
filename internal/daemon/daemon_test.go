package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/nanobot/internal/config"
	"github.com/harun/nanobot/pkg/agent"
	"github.com/harun/nanobot/pkg/cron"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	)
}

// echoProvider answers every request with the last user message.
type echoProvider struct{}

func (echoProvider) Chat(_ context.Context, req agent.ChatRequest) (*agent.LLMResponse, error) {
	last := req.Messages[len(req.Messages)-1]
	return &agent.LLMResponse{Content: "echo: " + last.Content}, nil
}

func (echoProvider) DefaultModel() string { return "echo" }
func (echoProvider) Provider() string     { return "echo" }

type syncBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Agents.Defaults.Workspace = filepath.Join(dir, "workspace")
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = 0
	cfg.Channels.WebSocket.Enabled = true
	return cfg
}

func TestNewRuntime(t *testing.T) {
	cfg := testConfig(t)
	rt, err := NewRuntime(cfg, echoProvider{})
	require.NoError(t, err)
	defer rt.Close()

	assert.Equal(t, cfg.SessionsDir(), rt.Sessions.Dir())
	assert.Equal(t, cfg.WorkspacePath(), rt.Context.Workspace())
	assert.Equal(t, "anthropic/claude-opus-4-5", rt.Loop.Model())
	assert.NotNil(t, rt.Loop.Registry())

	t.Run("should fail without any provider key", func(t *testing.T) {
		_, err := NewRuntime(testConfig(t), nil)
		assert.Error(t, err)
	})
}

func TestToolOptions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tools.Exec.Timeout = 15
	cfg.Tools.Exec.RestrictToWorkspace = true
	cfg.Tools.Exec.DenyPatterns = []string{`\bshutdown\b`}
	cfg.Tools.Web.Search.APIKey = "brave-key"

	opts := ToolOptions(cfg)
	assert.Equal(t, cfg.WorkspacePath(), opts.Workspace)
	assert.Equal(t, 15*time.Second, opts.Exec.Timeout)
	assert.True(t, opts.Exec.Guard.RestrictToWorkspace)
	assert.Equal(t, []string{`\bshutdown\b`}, opts.Exec.Guard.DenyPatterns)
	assert.Equal(t, "brave-key", opts.BraveAPIKey)
	assert.Equal(t, 5, opts.SearchMaxResults)
	assert.Equal(t, 50000, opts.FetchMaxChars)
}

func TestDaemon(t *testing.T) {
	cfg := testConfig(t)
	rt, err := NewRuntime(cfg, echoProvider{})
	require.NoError(t, err)

	out := &syncBuffer{}
	d, err := New(cfg, rt, out)
	require.NoError(t, err)
	assert.Equal(t, ErrNotStarted, d.Wait())

	require.NoError(t, d.Start(context.Background()))
	assert.Error(t, d.Start(context.Background()))

	st := d.Status()
	require.True(t, st.Running)
	base := "http://" + st.Addr

	t.Run("should write the pid file", func(t *testing.T) {
		_, err := os.Stat(cfg.PIDFile())
		assert.NoError(t, err)
	})

	t.Run("should serve health", func(t *testing.T) {
		resp, err := http.Get(base + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "ok", body["status"])
		assert.Contains(t, body["channels"], "websocket")
	})

	t.Run("should serve metrics", func(t *testing.T) {
		resp, err := http.Get(base + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("should answer websocket clients", func(t *testing.T) {
		require.Eventually(t, func() bool {
			return d.Status().Channels["websocket"].Running
		}, 2*time.Second, 10*time.Millisecond)

		conn, _, err := websocket.DefaultDialer.Dial("ws://"+st.Addr+"/ws", nil)
		require.NoError(t, err)
		defer conn.Close()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))

		var hello map[string]string
		require.NoError(t, conn.ReadJSON(&hello))
		require.Equal(t, "connected", hello["type"])

		require.NoError(t, conn.WriteJSON(map[string]string{"content": "hello"}))
		var reply map[string]string
		require.NoError(t, conn.ReadJSON(&reply))
		assert.Equal(t, "message", reply["type"])
		assert.Equal(t, hello["chat_id"], reply["chat_id"])
		assert.Equal(t, "echo: hello", reply["content"])
	})

	t.Run("should deliver cron turns to the cli", func(t *testing.T) {
		_, err := d.Cron().AddJob(cron.AddParams{
			Name:     "ping",
			Schedule: cron.Schedule{Kind: cron.ScheduleKindAt, AtMs: time.Now().Add(50 * time.Millisecond).UnixMilli()},
			Payload:  cron.Payload{Message: "scheduled ping"},
		})
		require.NoError(t, err)

		assert.Eventually(t, func() bool {
			return strings.Contains(out.String(), "[direct] echo: scheduled ping")
		}, 5*time.Second, 20*time.Millisecond)
	})

	require.NoError(t, d.Stop())
	assert.False(t, d.Status().Running)
	assert.NoError(t, d.Stop())

	_, err = os.Stat(cfg.PIDFile())
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(cfg.AuditLogPath())
	assert.NoError(t, err)
}
