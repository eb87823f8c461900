package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingWriter(t *testing.T) {
	chunk := bytes.Repeat([]byte("x"), 600*1024)

	t.Run("should create the log directory", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "nanobot.log")

		rw, err := NewRotatingWriter(logFile, 1, 0, false)
		require.NoError(t, err)
		defer rw.Close()

		assert.FileExists(t, logFile)
	})

	t.Run("should rotate when the size limit is exceeded", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "nanobot.log")

		rw, err := NewRotatingWriter(logFile, 1, 0, false)
		require.NoError(t, err)
		defer rw.Close()

		_, err = rw.Write(chunk)
		require.NoError(t, err)
		_, err = rw.Write(chunk)
		require.NoError(t, err)

		rotated, err := filepath.Glob(logFile + ".*")
		require.NoError(t, err)
		assert.Len(t, rotated, 1)

		info, err := os.Stat(logFile)
		require.NoError(t, err)
		assert.Equal(t, int64(len(chunk)), info.Size())
	})

	t.Run("should compress rotated files", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "nanobot.log")

		rw, err := NewRotatingWriter(logFile, 1, 0, true)
		require.NoError(t, err)
		defer rw.Close()

		_, err = rw.Write(chunk)
		require.NoError(t, err)
		_, err = rw.Write(chunk)
		require.NoError(t, err)

		gz, err := filepath.Glob(logFile + ".*.gz")
		require.NoError(t, err)
		assert.Len(t, gz, 1)
	})

	t.Run("should remove rotated files older than max age", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "nanobot.log")
		stale := logFile + ".20200101-000000.000"
		require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))
		old := time.Now().AddDate(0, 0, -10)
		require.NoError(t, os.Chtimes(stale, old, old))

		rw, err := NewRotatingWriter(logFile, 1, 7, false)
		require.NoError(t, err)
		defer rw.Close()

		assert.NoFileExists(t, stale)
	})

	t.Run("should reject writes after close", func(t *testing.T) {
		rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "nanobot.log"), 1, 0, false)
		require.NoError(t, err)
		require.NoError(t, rw.Close())
		require.NoError(t, rw.Close())

		_, err = rw.Write([]byte("late"))
		assert.ErrorIs(t, err, os.ErrClosed)
	})
}
