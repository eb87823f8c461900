package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mgr, err := NewManager(t.TempDir())
	require.NoError(t, err)
	return mgr
}

func TestSafeFilename(t *testing.T) {
	assert.Equal(t, "telegram_123", SafeFilename("telegram_123"))
	assert.Equal(t, "a_b_c_d_e_f_g_h_i", SafeFilename(`a<b>c:d"e/f\g|h?i`))
	assert.Equal(t, "x_y", SafeFilename(" x*y "))
	assert.Equal(t, "bad_name", SafeFilename("bad\x00name"))
}

func TestManager_Path(t *testing.T) {
	mgr := newTestManager(t)
	assert.Equal(t, filepath.Join(mgr.Dir(), "telegram_42.jsonl"), mgr.Path("telegram:42"))
	assert.Equal(t, filepath.Join(mgr.Dir(), "web_a_b.jsonl"), mgr.Path("web:a/b"))
}

func TestManager_SaveLoadRoundTrip(t *testing.T) {
	mgr := newTestManager(t)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := New("cli:direct")
	s.Metadata = map[string]any{"x": 1}
	s.Append(Message{Role: "user", Content: "hello", Timestamp: ts})
	s.Append(Message{Role: "assistant", Content: "hi there <b>", Timestamp: ts.Add(time.Second)})
	s.Append(Message{Role: "tool", Content: "ok", Timestamp: ts.Add(2 * time.Second), ToolCallID: "call_1", Name: "list_dir"})

	require.NoError(t, mgr.Save(s))

	loaded, err := mgr.Load("cli:direct")
	require.NoError(t, err)

	assert.Equal(t, s.Messages, loaded.Messages)
	wantMeta, _ := json.Marshal(s.Metadata)
	gotMeta, _ := json.Marshal(loaded.Metadata)
	assert.JSONEq(t, string(wantMeta), string(gotMeta))
	assert.True(t, s.CreatedAt.Equal(loaded.CreatedAt))
	assert.True(t, s.UpdatedAt.Equal(loaded.UpdatedAt))

	t.Run("should write metadata as first line", func(t *testing.T) {
		data, err := os.ReadFile(mgr.Path("cli:direct"))
		require.NoError(t, err)

		var first map[string]any
		line := data[:indexByte(data, '\n')]
		require.NoError(t, json.Unmarshal(line, &first))
		assert.Equal(t, "metadata", first["_type"])
		assert.Contains(t, first, "created_at")
		assert.Contains(t, first, "updated_at")
	})
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return len(b)
}

func TestManager_GetOrCreate(t *testing.T) {
	mgr := newTestManager(t)

	t.Run("should create new session", func(t *testing.T) {
		s := mgr.GetOrCreate("telegram:1")
		assert.Equal(t, "telegram:1", s.Key)
		assert.Empty(t, s.Messages)
	})

	t.Run("should return cached instance", func(t *testing.T) {
		a := mgr.GetOrCreate("telegram:1")
		b := mgr.GetOrCreate("telegram:1")
		assert.Same(t, a, b)
	})

	t.Run("should load from disk after invalidate", func(t *testing.T) {
		s := mgr.GetOrCreate("telegram:2")
		s.AddMessage("user", "remember me")
		require.NoError(t, mgr.Save(s))

		mgr.Invalidate("telegram:2")
		reloaded := mgr.GetOrCreate("telegram:2")
		assert.NotSame(t, s, reloaded)
		require.Len(t, reloaded.Messages, 1)
		assert.Equal(t, "remember me", reloaded.Messages[0].Content)
	})

	t.Run("should survive a restart", func(t *testing.T) {
		other, err := NewManager(mgr.Dir())
		require.NoError(t, err)
		s := other.GetOrCreate("telegram:2")
		assert.Len(t, s.Messages, 1)
	})

	t.Run("should treat corrupt file as new session", func(t *testing.T) {
		require.NoError(t, os.WriteFile(mgr.Path("telegram:bad"), []byte("{not json\n"), 0o600))
		s := mgr.GetOrCreate("telegram:bad")
		assert.Empty(t, s.Messages)
		assert.Equal(t, "telegram:bad", s.Key)
	})

	t.Run("should keep messages of a headerless file", func(t *testing.T) {
		lines := `{"role":"user","content":"x"}` + "\n" + `{"role":"assistant","content":"y"}` + "\n"
		require.NoError(t, os.WriteFile(mgr.Path("telegram:nohead"), []byte(lines), 0o600))

		s := mgr.GetOrCreate("telegram:nohead")
		require.Len(t, s.Messages, 2)
		assert.Equal(t, "x", s.Messages[0].Content)
		assert.Equal(t, "y", s.Messages[1].Content)
		assert.NotNil(t, s.Metadata)
		assert.False(t, s.CreatedAt.IsZero())
		assert.Equal(t, s.CreatedAt, s.UpdatedAt)

		loaded, err := mgr.Load("telegram:nohead")
		require.NoError(t, err)
		assert.Len(t, loaded.Messages, 2)
	})

	t.Run("should write a header on the next save", func(t *testing.T) {
		s := mgr.GetOrCreate("telegram:nohead")
		require.NoError(t, mgr.Save(s))

		infos, err := mgr.ListSessions()
		require.NoError(t, err)
		var keys []string
		for _, info := range infos {
			keys = append(keys, info.Key)
		}
		assert.Contains(t, keys, "telegram:nohead")
	})
}

func TestManager_Delete(t *testing.T) {
	mgr := newTestManager(t)
	s := mgr.GetOrCreate("cli:gone")
	s.AddMessage("user", "bye")
	require.NoError(t, mgr.Save(s))

	ok, err := mgr.Delete("cli:gone")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoFileExists(t, mgr.Path("cli:gone"))

	ok, err = mgr.Delete("cli:gone")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = mgr.Load("cli:gone")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, mgr.GetOrCreate("cli:gone").Messages)
}

func TestManager_ListSessions(t *testing.T) {
	mgr := newTestManager(t)

	older := New("telegram:1")
	older.UpdatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, mgr.Save(older))

	newer := New("whatsapp:user_with_underscore")
	require.NoError(t, mgr.Save(newer))

	require.NoError(t, os.WriteFile(filepath.Join(mgr.Dir(), "junk.jsonl"), []byte("garbage\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(mgr.Dir(), "notes.txt"), []byte("x"), 0o600))

	infos, err := mgr.ListSessions()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "whatsapp:user_with_underscore", infos[0].Key)
	assert.Equal(t, "telegram:1", infos[1].Key)
	assert.Equal(t, mgr.Path("telegram:1"), infos[1].Path)
}

func TestManager_ListSessionsLegacyHeader(t *testing.T) {
	mgr := newTestManager(t)
	line := `{"_type":"metadata","created_at":"2024-01-01T00:00:00Z","updated_at":"2024-01-02T00:00:00Z","metadata":{}}`
	require.NoError(t, os.WriteFile(filepath.Join(mgr.Dir(), "telegram_77.jsonl"), []byte(line+"\n"), 0o600))

	infos, err := mgr.ListSessions()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "telegram:77", infos[0].Key)
}

func TestManager_Prune(t *testing.T) {
	mgr := newTestManager(t)

	stale := New("cli:stale")
	stale.UpdatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, mgr.Save(stale))

	fresh := New("cli:fresh")
	require.NoError(t, mgr.Save(fresh))

	deleted, err := mgr.Prune(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"cli:stale"}, deleted)
	assert.NoFileExists(t, mgr.Path("cli:stale"))
	assert.FileExists(t, mgr.Path("cli:fresh"))
}

func TestManager_EmptyKey(t *testing.T) {
	mgr := newTestManager(t)
	assert.ErrorIs(t, mgr.Save(&Session{}), ErrEmptyKey)
	_, err := mgr.Load("")
	assert.ErrorIs(t, err, ErrEmptyKey)
}
