package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Terryzhang-jp/curise-agent/kernel/stream"
)

// Display row kinds.
const (
	DisplayUserInput        = "user_input"
	DisplayText             = "text"
	DisplayThinking         = "thinking"
	DisplayAction           = "action"
	DisplayObservation      = "observation"
	DisplayErrorObservation = "error_observation"
)

// ThinkTool is the reflection tool special-cased throughout the system:
// its call surfaces as a thinking row and its result produces no row.
const ThinkTool = "think"

// displayResultLimit caps observation content for UI rows. Tools in
// noTruncateTools are exempt because the UI renders their full payload.
const displayResultLimit = 2000

var noTruncateTools = map[string]bool{
	"query_db": true,
}

// DisplayRow is one human-readable row derived from a canonical message.
type DisplayRow struct {
	ID        string
	SessionID string
	Sequence  int
	Role      string
	Kind      string
	Content   string
	Meta      map[string]any
	CreatedAt time.Time
}

// DeriveDisplayRows maps one canonical message onto its display rows.
// Stores call this inside CreateMessage and assign ids and sequence
// numbers to the result. The derivation is presentation-only: nothing
// here may change what the provider later sees.
func DeriveDisplayRows(role string, parts []Part) []DisplayRow {
	var rows []DisplayRow
	for _, part := range parts {
		switch p := part.(type) {
		case TextPart:
			if p.Text == "" {
				continue
			}
			kind := DisplayText
			if role == RoleUser {
				kind = DisplayUserInput
			}
			rows = append(rows, DisplayRow{Role: role, Kind: kind, Content: p.Text})
		case ThinkingPart:
			if p.Thinking == "" {
				continue
			}
			rows = append(rows, DisplayRow{
				Role:    RoleAssistant,
				Kind:    DisplayThinking,
				Content: p.Thinking,
				Meta:    map[string]any{"summary": Summarize(p.Thinking)},
			})
		case ToolCallPart:
			if p.Name == ThinkTool {
				thought, _ := p.Args["thought"].(string)
				if thought == "" {
					continue
				}
				rows = append(rows, DisplayRow{
					Role:    RoleAssistant,
					Kind:    DisplayThinking,
					Content: thought,
					Meta:    map[string]any{"summary": Summarize(thought)},
				})
				continue
			}
			rows = append(rows, DisplayRow{
				Role:    RoleAssistant,
				Kind:    DisplayAction,
				Content: fmt.Sprintf("Calling tool: %s", p.Name),
				Meta: map[string]any{
					"tool_name": p.Name,
					"tool_args": p.Args,
					"summary":   ActionSummary(p.Name),
				},
			})
		case ToolResultPart:
			if p.Name == ThinkTool {
				continue
			}
			result := p.Result
			if !noTruncateTools[p.Name] && len(result) > displayResultLimit {
				result = result[:displayResultLimit] + "..."
			}
			if strings.HasPrefix(result, "Error:") {
				info := ClassifyToolError(result, p.Name)
				meta := info.Meta()
				meta["duration_ms"] = p.DurationMS
				rows = append(rows, DisplayRow{
					Role:    RoleTool,
					Kind:    DisplayErrorObservation,
					Content: info.UserMessage,
					Meta:    meta,
				})
				continue
			}
			rows = append(rows, DisplayRow{
				Role:    RoleTool,
				Kind:    DisplayObservation,
				Content: result,
				Meta: map[string]any{
					"tool_name":   p.Name,
					"duration_ms": p.DurationMS,
				},
			})
		case FinishPart:
			// Terminal marker, no display row.
		}
	}
	return rows
}

// Summarize extracts a short label from reasoning text without a model
// call: the first sentence when it fits, otherwise a truncated prefix.
func Summarize(text string) string {
	const maxLen = 60
	text = strings.TrimSpace(text)
	if text == "" {
		return "Reasoning"
	}
	for _, sep := range []string{". ", ".\n", "\n"} {
		if idx := strings.Index(text, sep); idx > 0 && idx <= maxLen {
			return strings.TrimSpace(text[:idx])
		}
	}
	if len(text) <= maxLen {
		return text
	}
	return strings.TrimSpace(text[:50]) + "..."
}

var actionSummaries = map[string]string{
	"query_db":         "Querying the database",
	"get_db_schema":    "Reading table schemas",
	ThinkTool:          "Thinking",
	"calculate":        "Running a calculation",
	"get_current_time": "Getting the current time",
	"todo_write":       "Updating the task list",
	"todo_read":        "Reading the task list",
	"use_skill":        "Invoking a skill",
	"web_fetch":        "Fetching a web page",
}

// ActionSummary returns the short human label for a tool invocation.
func ActionSummary(toolName string) string {
	if s, ok := actionSummaries[toolName]; ok {
		return s
	}
	return "Calling " + toolName
}

// AnswerStreamer is optionally implemented by stores that can deliver
// the final answer incrementally while still persisting one atomic
// canonical message. The engine falls back to AddAssistantMessage when
// the store does not implement it or no queue is attached.
type AnswerStreamer interface {
	StreamFinalAnswer(ctx context.Context, sessionID string, parts []Part, finalText, model string, q *stream.Queue) (*Message, error)
}
