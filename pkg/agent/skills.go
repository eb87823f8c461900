package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const skillFile = "SKILL.md"

var frontmatterPattern = regexp.MustCompile(`(?s)^---\r?\n(.*?)\r?\n---\r?\n?`)

// SkillInfo locates one skill on disk.
type SkillInfo struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Source string `json:"source"` // "workspace" or "builtin"
}

// SkillRequires lists what a skill needs from the host.
type SkillRequires struct {
	Bins []string `json:"bins,omitempty" yaml:"bins,omitempty"`
	Env  []string `json:"env,omitempty" yaml:"env,omitempty"`
}

// SkillMetadata is the parsed frontmatter of a SKILL.md.
type SkillMetadata struct {
	Name        string
	Description string
	Always      bool
	Requires    SkillRequires
}

type nanobotMeta struct {
	Always   bool          `json:"always" yaml:"always"`
	Requires SkillRequires `json:"requires" yaml:"requires"`
}

type skillFrontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Always      any    `yaml:"always"`
	Metadata    any    `yaml:"metadata"`
}

// SkillsLoader discovers skills in <workspace>/skills and an optional builtin directory.
// Workspace skills shadow builtin skills of the same name.
type SkillsLoader struct {
	workspaceDir string
	builtinDir   string
}

// NewSkillsLoader creates a loader. builtinDir may be empty.
func NewSkillsLoader(workspace, builtinDir string) *SkillsLoader {
	return &SkillsLoader{
		workspaceDir: filepath.Join(workspace, "skills"),
		builtinDir:   builtinDir,
	}
}

// Dirs returns the directories the loader scans.
func (l *SkillsLoader) Dirs() []string {
	dirs := []string{l.workspaceDir}
	if l.builtinDir != "" {
		dirs = append(dirs, l.builtinDir)
	}
	return dirs
}

// ListSkills returns every skill, optionally dropping those whose requirements are unmet.
func (l *SkillsLoader) ListSkills(filterUnavailable bool) []SkillInfo {
	seen := make(map[string]bool)
	var skills []SkillInfo

	scan := func(dir, source string) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, e := range entries {
			if !e.IsDir() || seen[e.Name()] {
				continue
			}
			path := filepath.Join(dir, e.Name(), skillFile)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			seen[e.Name()] = true
			skills = append(skills, SkillInfo{Name: e.Name(), Path: path, Source: source})
		}
	}
	scan(l.workspaceDir, "workspace")
	if l.builtinDir != "" {
		scan(l.builtinDir, "builtin")
	}

	sort.SliceStable(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })

	if !filterUnavailable {
		return skills
	}
	available := skills[:0]
	for _, s := range skills {
		meta := l.GetSkillMetadata(s.Name)
		if meta == nil || len(missingRequirements(meta.Requires)) == 0 {
			available = append(available, s)
		}
	}
	return available
}

// LoadSkill returns the raw SKILL.md for name, or "" when not found.
func (l *SkillsLoader) LoadSkill(name string) string {
	for _, dir := range l.Dirs() {
		if data, err := os.ReadFile(filepath.Join(dir, name, skillFile)); err == nil {
			return string(data)
		}
	}
	return ""
}

// LoadSkillsForContext renders the named skills without frontmatter.
func (l *SkillsLoader) LoadSkillsForContext(names []string) string {
	var parts []string
	for _, name := range names {
		content := l.LoadSkill(name)
		if content == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("### Skill: %s\n\n%s", name, stripFrontmatter(content)))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// BuildSkillsSummary renders every skill as an XML catalogue the model can browse.
func (l *SkillsLoader) BuildSkillsSummary() string {
	skills := l.ListSkills(false)
	if len(skills) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("<skills>\n")
	for _, s := range skills {
		meta := l.GetSkillMetadata(s.Name)
		description := s.Name
		var missing []string
		if meta != nil {
			if meta.Description != "" {
				description = meta.Description
			}
			missing = missingRequirements(meta.Requires)
		}
		fmt.Fprintf(&sb, "  <skill available=\"%t\">\n", len(missing) == 0)
		fmt.Fprintf(&sb, "    <name>%s</name>\n", escapeXML(s.Name))
		fmt.Fprintf(&sb, "    <description>%s</description>\n", escapeXML(description))
		fmt.Fprintf(&sb, "    <location>%s</location>\n", s.Path)
		if len(missing) > 0 {
			fmt.Fprintf(&sb, "    <requires>%s</requires>\n", escapeXML(strings.Join(missing, ", ")))
		}
		sb.WriteString("  </skill>\n")
	}
	sb.WriteString("</skills>")
	return sb.String()
}

// GetAlwaysSkills returns available skills marked always, either at the top level or
// under metadata.nanobot.
func (l *SkillsLoader) GetAlwaysSkills() []string {
	var names []string
	for _, s := range l.ListSkills(true) {
		if meta := l.GetSkillMetadata(s.Name); meta != nil && meta.Always {
			names = append(names, s.Name)
		}
	}
	return names
}

// GetSkillMetadata parses the frontmatter of name. It returns nil when the skill is
// missing or has no frontmatter.
func (l *SkillsLoader) GetSkillMetadata(name string) *SkillMetadata {
	content := l.LoadSkill(name)
	if content == "" {
		return nil
	}
	match := frontmatterPattern.FindStringSubmatch(content)
	if match == nil {
		return nil
	}

	var fm skillFrontmatter
	if err := yaml.Unmarshal([]byte(match[1]), &fm); err != nil {
		log.Warn().Err(err).Str("skill", name).Msg("Invalid skill frontmatter")
		return &SkillMetadata{Name: name}
	}

	meta := &SkillMetadata{
		Name:        fm.Name,
		Description: fm.Description,
		Always:      truthy(fm.Always),
	}
	if meta.Name == "" {
		meta.Name = name
	}
	if nb := parseNanobotMeta(fm.Metadata); nb != nil {
		meta.Requires = nb.Requires
		meta.Always = meta.Always || nb.Always
	}
	return meta
}

// parseNanobotMeta reads the "nanobot" key of metadata, which is either a JSON string
// or an inline YAML map.
func parseNanobotMeta(raw any) *nanobotMeta {
	var wrapper struct {
		Nanobot *nanobotMeta `json:"nanobot" yaml:"nanobot"`
	}
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil
		}
		if err := json.Unmarshal([]byte(v), &wrapper); err != nil {
			return nil
		}
	case map[string]any:
		data, err := yaml.Marshal(v)
		if err != nil {
			return nil
		}
		if err := yaml.Unmarshal(data, &wrapper); err != nil {
			return nil
		}
	default:
		return nil
	}
	return wrapper.Nanobot
}

func missingRequirements(req SkillRequires) []string {
	var missing []string
	for _, bin := range req.Bins {
		if _, err := exec.LookPath(bin); err != nil {
			missing = append(missing, "CLI: "+bin)
		}
	}
	for _, env := range req.Env {
		if os.Getenv(env) == "" {
			missing = append(missing, "ENV: "+env)
		}
	}
	return missing
}

func stripFrontmatter(content string) string {
	if loc := frontmatterPattern.FindStringIndex(content); loc != nil {
		return strings.TrimSpace(content[loc[1]:])
	}
	return content
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	}
	return false
}

var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeXML(s string) string {
	return xmlEscaper.Replace(s)
}
