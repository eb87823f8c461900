package session

import (
	"time"
)

// DefaultHistoryLimit is how many recent messages feed the model.
const DefaultHistoryLimit = 50

// Message is one stored conversation entry.
type Message struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	Timestamp  time.Time        `json:"timestamp"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
	ToolCalls  []map[string]any `json:"tool_calls,omitempty"`
}

// HistoryEntry is the reduced form handed to the model.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session is one conversation.
type Session struct {
	Key       string
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
	Metadata  map[string]any
}

// New creates an empty session.
func New(key string) *Session {
	now := time.Now()
	return &Session{
		Key:       key,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  make(map[string]any),
	}
}

// AddMessage appends a message stamped with the current time.
func (s *Session) AddMessage(role, content string) {
	s.Append(Message{Role: role, Content: content})
}

// Append appends msg, stamping it when its timestamp is zero.
func (s *Session) Append(msg Message) {
	now := time.Now()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = now
}

// GetHistory returns the last max messages as role and content pairs.
// A non-positive max means DefaultHistoryLimit.
func (s *Session) GetHistory(max int) []HistoryEntry {
	if max <= 0 {
		max = DefaultHistoryLimit
	}
	recent := s.Messages
	if len(recent) > max {
		recent = recent[len(recent)-max:]
	}

	out := make([]HistoryEntry, len(recent))
	for i, m := range recent {
		out[i] = HistoryEntry{Role: m.Role, Content: m.Content}
	}
	return out
}

// Clear drops all messages and keeps the identity.
func (s *Session) Clear() {
	s.Messages = nil
	s.UpdatedAt = time.Now()
}
