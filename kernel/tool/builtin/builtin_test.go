package builtin

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Terryzhang-jp/curise-agent/kernel/tool"
	"github.com/Terryzhang-jp/curise-agent/kernel/toolctx"
)

func newRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry(toolctx.New())
	reg.SetRetryDelay(time.Millisecond)
	if err := RegisterAll(reg); err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestRegisterAll(t *testing.T) {
	reg := newRegistry(t)
	for _, name := range []string{"think", "todo_write", "todo_read", "use_skill", "calculate", "get_current_time", "web_fetch"} {
		if !reg.Has(name) {
			t.Errorf("missing builtin %q", name)
		}
	}
}

func TestThinkAck(t *testing.T) {
	reg := newRegistry(t)
	out := reg.Execute(context.Background(), "think", map[string]any{"thought": "hmm"})
	if out != ThinkAck {
		t.Errorf("out = %q", out)
	}
}

func TestTodoWriteAndRead(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()

	out := reg.Execute(ctx, "todo_read", map[string]any{})
	if out != "Task list is empty" {
		t.Errorf("empty read = %q", out)
	}

	out = reg.Execute(ctx, "todo_write", map[string]any{"action": "add", "text": "parse the price list"})
	if out != "Added todo #1" {
		t.Errorf("add = %q", out)
	}
	out = reg.Execute(ctx, "todo_write", map[string]any{"action": "update", "id": float64(1), "status": "done"})
	if out != "Updated todo #1 to done" {
		t.Errorf("update = %q", out)
	}
	out = reg.Execute(ctx, "todo_read", map[string]any{})
	if !strings.Contains(out, "[x] #1 parse the price list") {
		t.Errorf("read = %q", out)
	}

	out = reg.Execute(ctx, "todo_write", map[string]any{"action": "clear"})
	if out != "Task list cleared" {
		t.Errorf("clear = %q", out)
	}
	out = reg.Execute(ctx, "todo_write", map[string]any{"action": "frobnicate"})
	if !strings.HasPrefix(out, "Error: ValueError:") {
		t.Errorf("bad action = %q", out)
	}
}

func TestUseSkill(t *testing.T) {
	reg := newRegistry(t)
	reg.Context().RegisterSkill(toolctx.Skill{Name: "greet", Body: "Hello $ARGUMENTS."})

	out := reg.Execute(context.Background(), "use_skill", map[string]any{"name": "greet", "arguments": "captain"})
	if out != "Hello captain." {
		t.Errorf("out = %q", out)
	}

	out = reg.Execute(context.Background(), "use_skill", map[string]any{"name": "missing"})
	if !strings.HasPrefix(out, "Error: SkillNotFound:") || !strings.Contains(out, "greet") {
		t.Errorf("out = %q", out)
	}
}

func TestCalculate(t *testing.T) {
	reg := newRegistry(t)
	cases := map[string]string{
		"2+2":           "4",
		"(120*3+45)/2":  "202.5",
		"10 % 3":        "1",
		"-4 * 2":        "-8",
		"2 + 3 * 4":     "14",
		"(2 + 3) * 4":   "20",
		"1.5 + 2.25":    "3.75",
		"--3":           "3",
		"2*(1+(3-1))/2": "3",
	}
	for expr, want := range cases {
		out := reg.Execute(context.Background(), "calculate", map[string]any{"expression": expr})
		if out != want {
			t.Errorf("calculate(%q) = %q, want %q", expr, out, want)
		}
	}
}

func TestCalculateErrors(t *testing.T) {
	reg := newRegistry(t)
	for _, expr := range []string{"2/0", "2+", "(1+2", "2**3", "abc"} {
		out := reg.Execute(context.Background(), "calculate", map[string]any{"expression": expr})
		if !strings.HasPrefix(out, "Error: ValueError:") {
			t.Errorf("calculate(%q) = %q, want ValueError", expr, out)
		}
	}
}

func TestGetCurrentTime(t *testing.T) {
	reg := newRegistry(t)
	out := reg.Execute(context.Background(), "get_current_time", map[string]any{"timezone": "UTC"})
	if strings.HasPrefix(out, "Error:") {
		t.Fatalf("out = %q", out)
	}
	if !strings.Contains(out, "UTC") {
		t.Errorf("out = %q", out)
	}
	out = reg.Execute(context.Background(), "get_current_time", map[string]any{"timezone": "Not/AZone"})
	if !strings.HasPrefix(out, "Error: ValueError:") {
		t.Errorf("out = %q", out)
	}
}

func TestWebFetchRejectsBadScheme(t *testing.T) {
	reg := newRegistry(t)
	out := reg.Execute(context.Background(), "web_fetch", map[string]any{"url": "ftp://example.com"})
	if !strings.HasPrefix(out, "Error: ValueError:") {
		t.Errorf("out = %q", out)
	}
}
