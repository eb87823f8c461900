package tools

import (
	"context"
	"sync"
)

// Spawner starts background subagents.
type Spawner interface {
	Spawn(ctx context.Context, task, label, originChannel, originChatID string) (string, error)
}

// SpawnTool hands a task to a background subagent.
type SpawnTool struct {
	mu            sync.RWMutex
	spawner       Spawner
	originChannel string
	originChatID  string
}

// NewSpawnTool creates spawn.
func NewSpawnTool(spawner Spawner) *SpawnTool {
	return &SpawnTool{
		spawner:       spawner,
		originChannel: "cli",
		originChatID:  "direct",
	}
}

// SetContext records where the subagent should announce its result.
func (t *SpawnTool) SetContext(channel, chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.originChannel = channel
	t.originChatID = chatID
}

func (t *SpawnTool) Name() string { return "spawn" }

func (t *SpawnTool) Description() string {
	return "Spawn a subagent to handle a task in the background. " +
		"Use this for complex or time-consuming tasks that can run independently. " +
		"The subagent will complete the task and report back when done."
}

func (t *SpawnTool) Parameters() *Schema {
	return Object(map[string]*Schema{
		"task":  String("The task for the subagent to complete"),
		"label": String("Optional short label for the task (for display)"),
	}, "task")
}

func (t *SpawnTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	task, err := requireString(params, "task")
	if err != nil {
		return "", err
	}

	t.mu.RLock()
	spawner := t.spawner
	channel, chatID := t.originChannel, t.originChatID
	t.mu.RUnlock()

	if spawner == nil {
		return "", ErrSpawnNotConfigured
	}
	return spawner.Spawn(ctx, task, stringParam(params, "label"), channel, chatID)
}
