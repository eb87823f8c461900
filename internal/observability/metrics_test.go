package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordToolExecution(t *testing.T) {
	m := getMetrics()
	before := testutil.ToFloat64(m.toolExecutionTotal.WithLabelValues("exec", "error"))

	RecordToolExecution("exec", 10*time.Millisecond, false)

	after := testutil.ToFloat64(m.toolExecutionTotal.WithLabelValues("exec", "error"))
	assert.Equal(t, before+1, after)
}

func TestBusGauges(t *testing.T) {
	RecordBusPublish("inbound", 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(getMetrics().busQueueSize.WithLabelValues("inbound")))

	SetBusQueueSize("inbound", 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(getMetrics().busQueueSize.WithLabelValues("inbound")))
}

func TestGuardAndFallbackCounters(t *testing.T) {
	m := getMetrics()
	guard := testutil.ToFloat64(m.guardBlocksTotal.WithLabelValues("dangerous_pattern"))
	fallback := testutil.ToFloat64(m.agentFallbackTotal.WithLabelValues("iteration_cap"))

	RecordGuardBlock("dangerous_pattern")
	RecordAgentFallback("iteration_cap")

	assert.Equal(t, guard+1, testutil.ToFloat64(m.guardBlocksTotal.WithLabelValues("dangerous_pattern")))
	assert.Equal(t, fallback+1, testutil.ToFloat64(m.agentFallbackTotal.WithLabelValues("iteration_cap")))
}

func TestMetricsHandler(t *testing.T) {
	RecordAgentTurn("cli", time.Second, 2, true)
	SetActiveSessions(1)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "nanobot_agent_turns_total"))
	assert.True(t, strings.Contains(body, "nanobot_active_sessions 1"))
}

func TestAuditLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.log")
	require.NoError(t, InitAuditLogger(path))
	t.Cleanup(func() { GetAuditLogger().Close() })

	RecordSecurityAudit(context.Background(), "guard_block", "cli:direct", "blocked", map[string]any{"reason": "path_traversal"})
	RecordToolAudit(context.Background(), "exec", "cli:direct", "success", nil)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"action":"guard_block"`)
	assert.Contains(t, lines[0], `"reason":"path_traversal"`)
	assert.Contains(t, lines[1], `"action":"execute:exec"`)
}
