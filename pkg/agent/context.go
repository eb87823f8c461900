package agent

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harun/nanobot/pkg/session"
)

// BootstrapFiles are loaded from the workspace root, in this order.
var BootstrapFiles = []string{"AGENTS.md", "SOUL.md", "USER.md", "TOOLS.md", "IDENTITY.md"}

const promptSeparator = "\n\n---\n\n"

// ContextBuilder assembles the system prompt and the message list for each turn.
type ContextBuilder struct {
	workspace string
	memory    *MemoryStore
	skills    *SkillsLoader
	now       func() time.Time

	mu          sync.Mutex
	cached      bool
	bootstrap   string
	skillsParts []string
}

// NewContextBuilder creates a builder rooted at workspace. builtinSkills may be empty.
func NewContextBuilder(workspace, builtinSkills string) (*ContextBuilder, error) {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace: %w", err)
	}
	memory, err := NewMemoryStore(abs)
	if err != nil {
		return nil, err
	}
	return &ContextBuilder{
		workspace: abs,
		memory:    memory,
		skills:    NewSkillsLoader(abs, builtinSkills),
		now:       time.Now,
	}, nil
}

// Workspace returns the absolute workspace path.
func (b *ContextBuilder) Workspace() string {
	return b.workspace
}

// Memory exposes the memory store.
func (b *ContextBuilder) Memory() *MemoryStore {
	return b.memory
}

// Skills exposes the skills loader.
func (b *ContextBuilder) Skills() *SkillsLoader {
	return b.skills
}

// Invalidate drops cached bootstrap files and skills so the next prompt rereads them.
func (b *ContextBuilder) Invalidate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cached = false
	b.bootstrap = ""
	b.skillsParts = nil
}

// BuildSystemPrompt joins identity, bootstrap files, memory and skills.
func (b *ContextBuilder) BuildSystemPrompt() string {
	bootstrap, skillsParts := b.loadCached()

	parts := []string{b.identity()}
	if bootstrap != "" {
		parts = append(parts, bootstrap)
	}
	if memory := b.memory.GetMemoryContext(); memory != "" {
		parts = append(parts, "# Memory\n\n"+memory)
	}
	parts = append(parts, skillsParts...)

	return strings.Join(parts, promptSeparator)
}

// BuildMessages returns system prompt, history and the current user message.
func (b *ContextBuilder) BuildMessages(history []session.HistoryEntry, current string, media []string) []Message {
	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, Message{Role: RoleSystem, Content: b.BuildSystemPrompt()})
	for _, h := range history {
		messages = append(messages, Message{Role: h.Role, Content: h.Content})
	}
	messages = append(messages, buildUserMessage(current, media))
	return messages
}

// AddToolResult appends the result of one tool call. It reads no builder state,
// so a nil builder is usable.
func (b *ContextBuilder) AddToolResult(messages []Message, toolCallID, toolName, result string) []Message {
	return append(messages, Message{
		Role:       RoleTool,
		ToolCallID: toolCallID,
		Name:       toolName,
		Content:    result,
	})
}

// AddAssistantMessage appends the model's reply and the tool calls it made.
func (b *ContextBuilder) AddAssistantMessage(messages []Message, content string, toolCalls []ToolCall) []Message {
	return append(messages, Message{
		Role:      RoleAssistant,
		Content:   content,
		ToolCalls: toolCalls,
	})
}

func (b *ContextBuilder) loadCached() (string, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.cached {
		b.bootstrap = b.loadBootstrapFiles()
		b.skillsParts = b.loadSkillsParts()
		b.cached = true
	}
	return b.bootstrap, b.skillsParts
}

func (b *ContextBuilder) loadBootstrapFiles() string {
	var parts []string
	for _, name := range BootstrapFiles {
		data, err := os.ReadFile(filepath.Join(b.workspace, name))
		if err != nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("## %s\n\n%s", name, data))
	}
	return strings.Join(parts, "\n\n")
}

func (b *ContextBuilder) loadSkillsParts() []string {
	var parts []string
	if always := b.skills.GetAlwaysSkills(); len(always) > 0 {
		if content := b.skills.LoadSkillsForContext(always); content != "" {
			parts = append(parts, "# Active Skills\n\n"+content)
		}
	}
	if summary := b.skills.BuildSkillsSummary(); summary != "" {
		parts = append(parts, "# Skills\n\n"+
			"The following skills extend your capabilities. To use a skill, read its SKILL.md file using the read_file tool.\n"+
			"Skills with available=\"false\" need dependencies installed first - you can try installing them with apt/brew.\n\n"+
			summary)
	}
	return parts
}

func (b *ContextBuilder) identity() string {
	now := b.now().Format("2006-01-02 15:04 (Monday)")
	ws := b.workspace
	return fmt.Sprintf(`# nanobot 🐈

You are nanobot, a helpful AI assistant. You have access to tools that allow you to:
- Read, write, and edit files
- Execute shell commands
- Search the web and fetch web pages
- Send messages to users on chat channels
- Spawn subagents for complex background tasks

## Current Time
%s

## Workspace
Your workspace is at: %s
- Memory files: %s/memory/MEMORY.md
- Daily notes: %s/memory/YYYY-MM-DD.md
- Custom skills: %s/skills/{skill-name}/SKILL.md

IMPORTANT: When responding to direct questions or conversations, reply directly with your text response.
Only use the 'message' tool when you need to send a message to a specific chat channel (like WhatsApp).
For normal conversation, just respond with text - do not call the message tool.

Always be helpful, accurate, and concise. When using tools, explain what you're doing.
When remembering something, write to %s/memory/MEMORY.md`, now, ws, ws, ws, ws, ws)
}

// buildUserMessage attaches image media as data URLs ahead of the text.
// Non-image and unreadable media are skipped.
func buildUserMessage(text string, media []string) Message {
	msg := Message{Role: RoleUser, Content: text}
	var parts []ContentPart
	for _, path := range media {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
		if mimeType == "" {
			mimeType = http.DetectContentType(data)
		}
		mimeType, _, _ = strings.Cut(mimeType, ";")
		if !strings.HasPrefix(mimeType, "image/") {
			continue
		}
		parts = append(parts, ContentPart{
			Type:     "image_url",
			ImageURL: "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data),
		})
	}
	if len(parts) > 0 {
		msg.Parts = append(parts, ContentPart{Type: "text", Text: text})
	}
	return msg
}
