package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ReadFileTool reads a file.
type ReadFileTool struct {
	baseDir string
}

// NewReadFileTool creates read_file. Relative paths resolve against baseDir when set.
func NewReadFileTool(baseDir string) *ReadFileTool {
	return &ReadFileTool{baseDir: baseDir}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file at the given path."
}

func (t *ReadFileTool) Parameters() *Schema {
	return Object(map[string]*Schema{
		"path": String("The file path to read"),
	}, "path")
}

func (t *ReadFileTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	path, err := requireString(params, "path")
	if err != nil {
		return "", err
	}
	full := expandPath(path, t.baseDir)

	info, err := os.Stat(full)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "Error: File not found: " + path, nil
	case errors.Is(err, fs.ErrPermission):
		return "Error: Permission denied: " + path, nil
	case err != nil:
		return fmt.Sprintf("Error reading file: %v", err), nil
	case !info.Mode().IsRegular():
		return "Error: Not a file: " + path, nil
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return "Error: Permission denied: " + path, nil
		}
		return fmt.Sprintf("Error reading file: %v", err), nil
	}
	return string(data), nil
}

// WriteFileTool writes a file, creating parent directories.
type WriteFileTool struct {
	baseDir string
}

func NewWriteFileTool(baseDir string) *WriteFileTool {
	return &WriteFileTool{baseDir: baseDir}
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file at the given path. Creates parent directories if needed."
}

func (t *WriteFileTool) Parameters() *Schema {
	return Object(map[string]*Schema{
		"path":    String("The file path to write to"),
		"content": String("The content to write"),
	}, "path", "content")
}

func (t *WriteFileTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	path, err := requireString(params, "path")
	if err != nil {
		return "", err
	}
	content := stringParam(params, "content")
	full := expandPath(path, t.baseDir)

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return writeError(path, err), nil
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return writeError(path, err), nil
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path), nil
}

func writeError(path string, err error) string {
	if errors.Is(err, fs.ErrPermission) {
		return "Error: Permission denied: " + path
	}
	return fmt.Sprintf("Error writing file: %v", err)
}

// EditFileTool replaces one exact occurrence of old_text.
type EditFileTool struct {
	baseDir string
}

func NewEditFileTool(baseDir string) *EditFileTool {
	return &EditFileTool{baseDir: baseDir}
}

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Description() string {
	return "Edit a file by replacing old_text with new_text. The old_text must exist exactly in the file."
}

func (t *EditFileTool) Parameters() *Schema {
	return Object(map[string]*Schema{
		"path":     String("The file path to edit"),
		"old_text": String("The exact text to find and replace"),
		"new_text": String("The text to replace with"),
	}, "path", "old_text", "new_text")
}

func (t *EditFileTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	path, err := requireString(params, "path")
	if err != nil {
		return "", err
	}
	oldText := stringParam(params, "old_text")
	newText := stringParam(params, "new_text")
	full := expandPath(path, t.baseDir)

	data, err := os.ReadFile(full)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "Error: File not found: " + path, nil
	case errors.Is(err, fs.ErrPermission):
		return "Error: Permission denied: " + path, nil
	case err != nil:
		return fmt.Sprintf("Error editing file: %v", err), nil
	}

	content := string(data)
	if oldText == "" || !strings.Contains(content, oldText) {
		return "Error: old_text not found in file. Make sure it matches exactly.", nil
	}
	if count := strings.Count(content, oldText); count > 1 {
		return fmt.Sprintf("Warning: old_text appears %d times. Please provide more context to make it unique.", count), nil
	}

	updated := strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(full, []byte(updated), 0o644); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return "Error: Permission denied: " + path, nil
		}
		return fmt.Sprintf("Error editing file: %v", err), nil
	}
	return "Successfully edited " + path, nil
}

// ListDirTool lists a directory.
type ListDirTool struct {
	baseDir string
}

func NewListDirTool(baseDir string) *ListDirTool {
	return &ListDirTool{baseDir: baseDir}
}

func (t *ListDirTool) Name() string { return "list_dir" }

func (t *ListDirTool) Description() string {
	return "List the contents of a directory."
}

func (t *ListDirTool) Parameters() *Schema {
	return Object(map[string]*Schema{
		"path": String("The directory path to list"),
	}, "path")
}

func (t *ListDirTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	path, err := requireString(params, "path")
	if err != nil {
		return "", err
	}
	full := expandPath(path, t.baseDir)

	info, err := os.Stat(full)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "Error: Directory not found: " + path, nil
	case errors.Is(err, fs.ErrPermission):
		return "Error: Permission denied: " + path, nil
	case err != nil:
		return fmt.Sprintf("Error listing directory: %v", err), nil
	case !info.IsDir():
		return "Error: Not a directory: " + path, nil
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return "Error: Permission denied: " + path, nil
		}
		return fmt.Sprintf("Error listing directory: %v", err), nil
	}
	if len(entries) == 0 {
		return fmt.Sprintf("Directory %s is empty", path), nil
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		prefix := "📄 "
		if e.IsDir() {
			prefix = "📁 "
		}
		lines = append(lines, prefix+e.Name())
	}
	return strings.Join(lines, "\n"), nil
}
