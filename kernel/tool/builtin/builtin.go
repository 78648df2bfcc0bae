// Package builtin provides the standard tool set: reflection (think),
// the todo checklist, skill invocation and small utilities.
package builtin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Terryzhang-jp/curise-agent/kernel/llm"
	"github.com/Terryzhang-jp/curise-agent/kernel/tool"
	"github.com/Terryzhang-jp/curise-agent/kernel/toolctx"
)

// ThinkAck is the fixed acknowledgement for think calls. The engine
// short-circuits think before the registry, so the handler only runs
// when a caller executes it directly.
const ThinkAck = "[Thought recorded]"

func optional() *bool {
	v := false
	return &v
}

// RegisterAll registers the full builtin tool set.
func RegisterAll(reg *tool.Registry) error {
	defs := []tool.Def{
		Think(),
		TodoWrite(),
		TodoRead(),
		UseSkill(),
		Calculate(),
		GetCurrentTime(),
		WebFetch(),
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// Think records a reasoning step without any side effect.
func Think() tool.Def {
	return tool.Def{
		Name:        "think",
		Description: "Record a thought while reasoning through a multi-step task. Produces no side effects.",
		Parameters: map[string]llm.Param{
			"thought": {Type: llm.TypeString, Description: "The thought to record"},
		},
		Group:    "reflection",
		Examples: []string{`think(thought="The price list is missing supplier codes, I should ask.")`},
		Handler: func(ctx context.Context, tc *toolctx.Context, args map[string]any) (string, error) {
			return ThinkAck, nil
		},
	}
}

// TodoWrite mutates the run-scoped checklist.
func TodoWrite() tool.Def {
	return tool.Def{
		Name:        "todo_write",
		Description: "Manage the task checklist: add an item, update an item's status, or clear the list.",
		Parameters: map[string]llm.Param{
			"action": {Type: llm.TypeString, Description: "One of: add, update, clear"},
			"text":   {Type: llm.TypeString, Description: "Item text (for add)", Required: optional()},
			"id":     {Type: llm.TypeInteger, Description: "Item id (for update)", Required: optional()},
			"status": {Type: llm.TypeString, Description: "New status: pending, in_progress or done (for update)", Required: optional()},
		},
		Group: "planning",
		Handler: func(ctx context.Context, tc *toolctx.Context, args map[string]any) (string, error) {
			action, _ := args["action"].(string)
			switch action {
			case "add":
				text, _ := args["text"].(string)
				if strings.TrimSpace(text) == "" {
					return "", tool.Faultf("ValueError", "add requires a non-empty text")
				}
				id := tc.AddTodo(text)
				return fmt.Sprintf("Added todo #%d", id), nil
			case "update":
				id, ok := asInt(args["id"])
				if !ok {
					return "", tool.Faultf("ValueError", "update requires an id")
				}
				status, _ := args["status"].(string)
				if err := tc.UpdateTodo(id, status); err != nil {
					return "", tool.Faultf("ValueError", "%v", err)
				}
				return fmt.Sprintf("Updated todo #%d to %s", id, status), nil
			case "clear":
				tc.ClearTodos()
				return "Task list cleared", nil
			default:
				return "", tool.Faultf("ValueError", "unknown action %q (want add, update or clear)", action)
			}
		},
	}
}

// TodoRead renders the current checklist.
func TodoRead() tool.Def {
	return tool.Def{
		Name:        "todo_read",
		Description: "Read the current task checklist.",
		Parameters:  map[string]llm.Param{},
		Group:       "planning",
		Handler: func(ctx context.Context, tc *toolctx.Context, args map[string]any) (string, error) {
			summary := tc.TodoSummary()
			if summary == "" {
				return "Task list is empty", nil
			}
			return summary, nil
		},
	}
}

// UseSkill expands a named skill template with the given arguments.
func UseSkill() tool.Def {
	return tool.Def{
		Name:        "use_skill",
		Description: "Invoke a named skill template, substituting the given arguments.",
		Parameters: map[string]llm.Param{
			"name":      {Type: llm.TypeString, Description: "Skill name"},
			"arguments": {Type: llm.TypeString, Description: "Text substituted for $ARGUMENTS", Required: optional()},
		},
		Group: "skills",
		Handler: func(ctx context.Context, tc *toolctx.Context, args map[string]any) (string, error) {
			name, _ := args["name"].(string)
			skill, ok := tc.Skill(name)
			if !ok {
				return "", tool.Faultf("SkillNotFound", "unknown skill %q (available: %s)", name, strings.Join(tc.SkillNames(), ", "))
			}
			arguments, _ := args["arguments"].(string)
			out, err := skill.Expand(ctx, arguments)
			if err != nil {
				return "", tool.Faultf("SkillError", "%v", err)
			}
			return out, nil
		},
	}
}

// GetCurrentTime reports the current time, optionally in a named zone.
func GetCurrentTime() tool.Def {
	return tool.Def{
		Name:        "get_current_time",
		Description: "Get the current date and time, optionally for an IANA timezone.",
		Parameters: map[string]llm.Param{
			"timezone": {Type: llm.TypeString, Description: "IANA timezone name, e.g. Asia/Tokyo", Required: optional()},
		},
		Group: "utility",
		Handler: func(ctx context.Context, tc *toolctx.Context, args map[string]any) (string, error) {
			loc := time.Local
			if tz, _ := args["timezone"].(string); tz != "" {
				parsed, err := time.LoadLocation(tz)
				if err != nil {
					return "", tool.Faultf("ValueError", "unknown timezone %q", tz)
				}
				loc = parsed
			}
			return time.Now().In(loc).Format("2006-01-02 15:04:05 MST"), nil
		},
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
