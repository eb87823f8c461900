package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/harun/nanobot/internal/config"
	"github.com/harun/nanobot/pkg/agent"
	"github.com/spf13/cobra"
)

var onboardForce bool

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize the config and workspace",
	Long: `Write the default config file and create the workspace with its
bootstrap files (AGENTS.md, SOUL.md, USER.md and memory/MEMORY.md).
Existing workspace files are never overwritten.`,
	RunE: runOnboard,
}

func init() {
	onboardCmd.Flags().BoolVar(&onboardForce, "force", false, "overwrite an existing config with defaults")
	rootCmd.AddCommand(onboardCmd)
}

var workspaceTemplates = map[string]string{
	"AGENTS.md": `# Agent Instructions

You are a helpful AI assistant. Be concise, accurate, and friendly.

## Guidelines

- Explain what you are doing before taking actions
- Ask for clarification when the request is ambiguous
- Use tools to help accomplish tasks
- Remember important information in memory/MEMORY.md
`,
	"SOUL.md": `# Soul

I am nanobot, a lightweight AI assistant.

## Personality

- Helpful and friendly
- Concise and to the point

## Values

- Accuracy over speed
- User privacy and safety
`,
	"USER.md": `# User

Information about the user goes here.

## Preferences

- Communication style: (casual/formal)
- Timezone: (your timezone)
- Language: (your preferred language)
`,
}

const memoryTemplate = `# Long-term Memory

This file stores important information that should persist across sessions.

## User Information

## Preferences

## Important Notes
`

func runOnboard(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	loader := config.NewLoader(cfgFile)
	configPath := loader.GetConfigPath()

	if loader.Exists() && !onboardForce {
		fmt.Fprintf(out, "Config already exists at %s (use --force to reset)\n", configPath)
	} else {
		if err := loader.Save(config.DefaultConfig()); err != nil {
			return fmt.Errorf("failed to save configuration: %w", err)
		}
		fmt.Fprintf(out, "✓ Created config at %s\n", configPath)
	}

	workspace := appConfig.WorkspacePath()
	created, err := createWorkspace(workspace)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Workspace ready at %s\n", workspace)
	for _, name := range created {
		fmt.Fprintf(out, "  Created %s\n", name)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "🐈 nanobot is ready!")
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintf(out, "  1. Add your API key to %s\n", configPath)
	fmt.Fprintln(out, `  2. Chat: nanobot agent -m "Hello!"`)
	return nil
}

// createWorkspace writes any missing bootstrap file and returns the ones it created.
func createWorkspace(workspace string) ([]string, error) {
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	var created []string
	for _, name := range agent.BootstrapFiles {
		content, ok := workspaceTemplates[name]
		if !ok {
			continue
		}
		wrote, err := writeIfMissing(filepath.Join(workspace, name), content)
		if err != nil {
			return created, err
		}
		if wrote {
			created = append(created, name)
		}
	}

	memory, err := agent.NewMemoryStore(workspace)
	if err != nil {
		return created, err
	}
	wrote, err := writeIfMissing(filepath.Join(memory.Dir(), "MEMORY.md"), memoryTemplate)
	if err != nil {
		return created, err
	}
	if wrote {
		created = append(created, filepath.Join("memory", "MEMORY.md"))
	}
	return created, nil
}

func writeIfMissing(path, content string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return true, nil
}
