package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleManager(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "data", "nanobot.pid")
	lm := NewLifecycleManager(pidFile)
	assert.Equal(t, pidFile, lm.PIDFile())

	t.Run("should report nothing before start", func(t *testing.T) {
		_, running := lm.IsRunning()
		assert.False(t, running)
		assert.Zero(t, lm.Uptime())
	})

	require.NoError(t, lm.Start())

	t.Run("should write the current pid", func(t *testing.T) {
		pid, err := lm.GetPID()
		require.NoError(t, err)
		assert.Equal(t, os.Getpid(), pid)

		pid, running := lm.IsRunning()
		assert.True(t, running)
		assert.Equal(t, os.Getpid(), pid)
	})

	t.Run("should allow restarting in the same process", func(t *testing.T) {
		assert.NoError(t, lm.Start())
	})

	require.NoError(t, lm.Stop())
	_, err := os.Stat(pidFile)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, lm.Stop())
}

func TestLifecycleManager_LivePeer(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "nanobot.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getppid())), 0o644))

	err := NewLifecycleManager(pidFile).Start()
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestLifecycleManager_StaleFile(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "nanobot.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte("not-a-pid"), 0o644))

	lm := NewLifecycleManager(pidFile)
	_, err := lm.GetPID()
	assert.Error(t, err)

	require.NoError(t, lm.Start())
	pid, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	require.NoError(t, lm.Stop())
}
