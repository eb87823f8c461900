package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var dailyNotePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\.md$`)

// MemoryStore keeps long-term memory in memory/MEMORY.md and daily notes in
// memory/YYYY-MM-DD.md under the workspace.
type MemoryStore struct {
	dir  string
	now  func() time.Time
	file string
}

// NewMemoryStore creates the memory directory if needed.
func NewMemoryStore(workspace string) (*MemoryStore, error) {
	dir := filepath.Join(workspace, "memory")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create memory directory: %w", err)
	}
	return &MemoryStore{
		dir:  dir,
		now:  time.Now,
		file: filepath.Join(dir, "MEMORY.md"),
	}, nil
}

// Dir returns the memory directory.
func (m *MemoryStore) Dir() string {
	return m.dir
}

// TodayFile is today's daily-note path.
func (m *MemoryStore) TodayFile() string {
	return filepath.Join(m.dir, m.now().Format(dateLayout)+".md")
}

// ReadToday returns today's notes, or "" when there are none.
func (m *MemoryStore) ReadToday() string {
	return readOptional(m.TodayFile())
}

// AppendToday appends content to today's notes, creating the file with a date header.
func (m *MemoryStore) AppendToday(content string) error {
	path := m.TodayFile()
	if existing, err := os.ReadFile(path); err == nil {
		content = string(existing) + "\n" + content
	} else if os.IsNotExist(err) {
		content = "# " + m.now().Format(dateLayout) + "\n\n" + content
	} else {
		return fmt.Errorf("failed to read daily notes: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write daily notes: %w", err)
	}
	return nil
}

// ReadLongTerm returns MEMORY.md, or "" when absent.
func (m *MemoryStore) ReadLongTerm() string {
	return readOptional(m.file)
}

// WriteLongTerm replaces MEMORY.md.
func (m *MemoryStore) WriteLongTerm(content string) error {
	if err := os.WriteFile(m.file, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write long-term memory: %w", err)
	}
	return nil
}

// GetRecentMemories joins the daily notes of the last days days, newest first.
func (m *MemoryStore) GetRecentMemories(days int) string {
	if days <= 0 {
		days = 7
	}
	today := m.now()
	var parts []string
	for i := 0; i < days; i++ {
		day := today.AddDate(0, 0, -i).Format(dateLayout)
		if content := readOptional(filepath.Join(m.dir, day+".md")); content != "" {
			parts = append(parts, content)
		}
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// ListMemoryFiles returns the daily-note paths, newest first.
func (m *MemoryStore) ListMemoryFiles() []string {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && dailyNotePattern.MatchString(e.Name()) {
			files = append(files, filepath.Join(m.dir, e.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	return files
}

// GetMemoryContext renders long-term memory and today's notes for the system prompt.
func (m *MemoryStore) GetMemoryContext() string {
	var parts []string
	if long := m.ReadLongTerm(); long != "" {
		parts = append(parts, "## Long-term Memory\n"+long)
	}
	if today := m.ReadToday(); today != "" {
		parts = append(parts, "## Today's Notes\n"+today)
	}
	return strings.Join(parts, "\n\n")
}

func readOptional(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}
