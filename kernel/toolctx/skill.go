package toolctx

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// commandTimeout bounds each inline !`cmd` expansion.
const commandTimeout = 10 * time.Second

var inlineCommand = regexp.MustCompile("!`([^`]+)`")

// Skill is a named prompt template. The body may contain one $ARGUMENTS
// placeholder and inline !`cmd` markers whose captured stdout is
// substituted at expansion time.
type Skill struct {
	Name        string
	Description string
	Tags        []string
	Version     string
	Body        string
	Path        string
}

// Expand substitutes $ARGUMENTS with args, then runs every inline
// !`cmd` marker and splices its stdout in place. Expansion is literal
// textual substitution, never a model call.
func (s Skill) Expand(ctx context.Context, args string) (string, error) {
	out := strings.ReplaceAll(s.Body, "$ARGUMENTS", args)

	var expandErr error
	out = inlineCommand.ReplaceAllStringFunc(out, func(marker string) string {
		if expandErr != nil {
			return marker
		}
		command := strings.TrimSpace(inlineCommand.FindStringSubmatch(marker)[1])
		result, err := runInline(ctx, command)
		if err != nil {
			expandErr = fmt.Errorf("toolctx: skill %q: command %q: %w", s.Name, command, err)
			return marker
		}
		return result
	})
	if expandErr != nil {
		return "", expandErr
	}
	return out, nil
}

func runInline(ctx context.Context, command string) (string, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(out), "\n"), nil
}

// ResolveSlashCommand expands "/name args" into the named skill's body.
// Inputs that are not commands, or that name an unknown skill, pass
// through unchanged.
func (c *Context) ResolveSlashCommand(ctx context.Context, input string) (string, bool) {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, "/") || len(trimmed) < 2 {
		return input, false
	}
	name, args, _ := strings.Cut(trimmed[1:], " ")
	skill, ok := c.Skill(name)
	if !ok {
		return input, false
	}
	out, err := skill.Expand(ctx, strings.TrimSpace(args))
	if err != nil {
		return input, false
	}
	return out, true
}

// SkillListSummary renders the registered skills for system-prompt
// injection. Returns "" when no skills are registered.
func (c *Context) SkillListSummary() string {
	names := c.SkillNames()
	if len(names) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Available skills (invoke with the use_skill tool or a /name command):\n")
	for _, name := range names {
		s, _ := c.Skill(name)
		if s.Description != "" {
			fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
		} else {
			fmt.Fprintf(&b, "- %s\n", s.Name)
		}
	}
	return strings.TrimSpace(b.String())
}

// DiscoverSkills scans dirs for SKILL.md files and registers every valid
// skill. Invalid files produce warnings, not errors, so one broken skill
// cannot break the run.
func (c *Context) DiscoverSkills(dirs []string) []error {
	var warnings []error
	seen := make(map[string]struct{})

	for _, dir := range dirs {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		info, err := os.Stat(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			warnings = append(warnings, fmt.Errorf("toolctx: stat %q: %w", dir, err))
			continue
		}
		if !info.IsDir() {
			warnings = append(warnings, fmt.Errorf("toolctx: %q is not a directory", dir))
			continue
		}
		_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				warnings = append(warnings, fmt.Errorf("toolctx: walk %q: %w", path, walkErr))
				return nil
			}
			if d == nil || d.IsDir() || !strings.EqualFold(d.Name(), "SKILL.md") {
				return nil
			}
			normalized := filepath.Clean(path)
			if _, exists := seen[normalized]; exists {
				return nil
			}
			skill, err := parseSkillFile(normalized)
			if err != nil {
				warnings = append(warnings, err)
				return nil
			}
			seen[normalized] = struct{}{}
			c.RegisterSkill(skill)
			return nil
		})
	}
	return warnings
}

func parseSkillFile(path string) (Skill, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, fmt.Errorf("toolctx: read %q: %w", path, err)
	}
	content := strings.ReplaceAll(string(raw), "\r\n", "\n")
	if strings.TrimSpace(content) == "" {
		return Skill{}, fmt.Errorf("toolctx: empty SKILL.md: %q", path)
	}

	fm, body := parseFrontMatter(content)
	name := fm["name"]
	if strings.TrimSpace(name) == "" {
		name = filepath.Base(filepath.Dir(path))
	}
	if strings.TrimSpace(name) == "" || strings.TrimSpace(body) == "" {
		return Skill{}, fmt.Errorf("toolctx: invalid skill file %q (name and body are required)", path)
	}
	return Skill{
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(fm["description"]),
		Tags:        parseTags(fm["tags"]),
		Version:     strings.TrimSpace(fm["version"]),
		Body:        strings.TrimSpace(body),
		Path:        path,
	}, nil
}

func parseFrontMatter(content string) (map[string]string, string) {
	trimmed := strings.TrimLeft(content, "\n\r\t ")
	if !strings.HasPrefix(trimmed, "---\n") {
		return map[string]string{}, content
	}
	rest := strings.TrimPrefix(trimmed, "---\n")
	idx := strings.Index(rest, "\n---\n")
	if idx < 0 {
		return map[string]string{}, content
	}
	front := rest[:idx]
	body := rest[idx+len("\n---\n"):]

	result := map[string]string{}
	for _, line := range strings.Split(front, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(strings.ToLower(parts[0]))
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		result[key] = value
	}
	return result, body
}

func parseTags(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	raw = strings.TrimPrefix(raw, "[")
	raw = strings.TrimSuffix(raw, "]")
	var out []string
	for _, p := range strings.Split(raw, ",") {
		tag := strings.TrimSpace(strings.Trim(strings.TrimSpace(p), `"'`))
		if tag != "" {
			out = append(out, tag)
		}
	}
	sort.Strings(out)
	return out
}
