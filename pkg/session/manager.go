package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/harun/nanobot/internal/observability"
	"github.com/rs/zerolog/log"
)

const (
	metadataType = "metadata"
	fileSuffix   = ".jsonl"
)

// metadataLine is the first record of every session file.
type metadataLine struct {
	Type      string         `json:"_type"`
	Key       string         `json:"key,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata"`
}

// Info summarizes a stored session.
type Info struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Path      string    `json:"path"`
}

// Manager caches sessions in memory and persists them under one directory.
type Manager struct {
	dir   string
	mu    sync.Mutex
	cache map[string]*Session
}

// NewManager creates the sessions directory if needed.
func NewManager(dir string) (*Manager, error) {
	observability.EnsureRegistered()

	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".nanobot", "sessions")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	log.Debug().Str("dir", dir).Msg("Session manager initialized")

	return &Manager{
		dir:   dir,
		cache: make(map[string]*Session),
	}, nil
}

// Dir returns the sessions directory.
func (m *Manager) Dir() string {
	return m.dir
}

// SafeFilename replaces characters that are unsafe in file names with "_".
func SafeFilename(name string) string {
	var sb strings.Builder
	for _, r := range name {
		if strings.ContainsRune(`<>:"/\|?*`, r) || unicode.IsControl(r) {
			sb.WriteRune('_')
			continue
		}
		sb.WriteRune(r)
	}
	return strings.TrimSpace(sb.String())
}

// Path returns the file that stores key.
func (m *Manager) Path(key string) string {
	return filepath.Join(m.dir, SafeFilename(strings.ReplaceAll(key, ":", "_"))+fileSuffix)
}

// GetOrCreate returns the cached session, the stored one, or a new one.
func (m *Manager) GetOrCreate(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.cache[key]; ok {
		return s
	}

	start := time.Now()
	s, err := m.load(key)
	switch {
	case err == nil:
		observability.RecordSessionLoad(time.Since(start), true)
	case errors.Is(err, os.ErrNotExist):
		s = New(key)
	default:
		observability.RecordSessionLoad(time.Since(start), false)
		log.Warn().Err(err).Str("session_key", key).Msg("Failed to load session, starting fresh")
		s = New(key)
	}

	m.cache[key] = s
	observability.SetActiveSessions(len(m.cache))
	return s
}

// Load reads a session from disk without touching the cache.
func (m *Manager) Load(key string) (*Session, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	s, err := m.load(key)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return s, err
}

func (m *Manager) load(key string) (*Session, error) {
	f, err := os.Open(m.Path(key))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// a file without a metadata record still yields its messages with default metadata
	s := &Session{Key: key, Metadata: make(map[string]any)}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var probe struct {
			Type string `json:"_type"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			return nil, fmt.Errorf("failed to parse session line: %w", err)
		}

		if probe.Type == metadataType {
			var meta metadataLine
			if err := json.Unmarshal(line, &meta); err != nil {
				return nil, fmt.Errorf("failed to parse session metadata: %w", err)
			}
			s.CreatedAt = meta.CreatedAt
			s.UpdatedAt = meta.UpdatedAt
			if meta.Metadata != nil {
				s.Metadata = meta.Metadata
			}
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("failed to parse session message: %w", err)
		}
		s.Messages = append(s.Messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}
	return s, nil
}

// Save rewrites the session file and refreshes the cache.
func (m *Manager) Save(s *Session) error {
	if s.Key == "" {
		return ErrEmptyKey
	}

	start := time.Now()
	err := m.write(s)
	observability.RecordSessionSave(time.Since(start), err == nil)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.cache[s.Key] = s
	observability.SetActiveSessions(len(m.cache))
	m.mu.Unlock()

	log.Debug().Str("session_key", s.Key).Int("messages", len(s.Messages)).Msg("Session saved")
	return nil
}

func (m *Manager) write(s *Session) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	meta := s.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	if err := enc.Encode(metadataLine{
		Type:      metadataType,
		Key:       s.Key,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		Metadata:  meta,
	}); err != nil {
		return fmt.Errorf("failed to encode session metadata: %w", err)
	}
	for _, msg := range s.Messages {
		if err := enc.Encode(msg); err != nil {
			return fmt.Errorf("failed to encode session message: %w", err)
		}
	}

	path := m.Path(s.Key)
	tmp, err := os.CreateTemp(m.dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close session file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set session file permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// Delete removes a session from the cache and disk. It reports whether a file existed.
func (m *Manager) Delete(key string) (bool, error) {
	m.mu.Lock()
	delete(m.cache, key)
	observability.SetActiveSessions(len(m.cache))
	m.mu.Unlock()

	err := os.Remove(m.Path(key))
	switch {
	case err == nil:
		observability.RecordSessionDelete(true)
		log.Info().Str("session_key", key).Msg("Session deleted")
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		observability.RecordSessionDelete(false)
		return false, fmt.Errorf("failed to delete session file: %w", err)
	}
}

// Invalidate drops a session from the cache so the next lookup reads disk.
func (m *Manager) Invalidate(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, key)
	observability.SetActiveSessions(len(m.cache))
}

// ListSessions reads the header of every session file, newest first.
func (m *Manager) ListSessions() ([]Info, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Info{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	infos := []Info{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}

		path := filepath.Join(m.dir, name)
		meta, err := readHeader(path)
		if err != nil {
			log.Debug().Err(err).Str("path", path).Msg("Skipping unreadable session file")
			continue
		}

		key := meta.Key
		if key == "" {
			key = strings.ReplaceAll(strings.TrimSuffix(name, fileSuffix), "_", ":")
		}
		infos = append(infos, Info{
			Key:       key,
			CreatedAt: meta.CreatedAt,
			UpdatedAt: meta.UpdatedAt,
			Path:      path,
		})
	}

	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
	})
	return infos, nil
}

func readHeader(path string) (*metadataLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	line, err := reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, err
	}

	var meta metadataLine
	if err := json.Unmarshal(bytes.TrimSpace(line), &meta); err != nil {
		return nil, err
	}
	if meta.Type != metadataType {
		return nil, ErrMissingHeader
	}
	return &meta, nil
}
