package session

import (
	"strings"
	"testing"
)

func TestDeriveUserText(t *testing.T) {
	rows := DeriveDisplayRows(RoleUser, []Part{Text("what is 2+2")})
	if len(rows) != 1 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0].Kind != DisplayUserInput || rows[0].Content != "what is 2+2" {
		t.Errorf("row = %+v", rows[0])
	}
}

func TestDeriveAssistantTextAndThinking(t *testing.T) {
	rows := DeriveDisplayRows(RoleAssistant, []Part{
		Thinking("First I will check the order totals. Then summarize."),
		Text("All done."),
		Finish(FinishStop),
	})
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2 (finish produces no row)", len(rows))
	}
	if rows[0].Kind != DisplayThinking {
		t.Errorf("row 0 = %+v", rows[0])
	}
	summary, _ := rows[0].Meta["summary"].(string)
	if summary != "First I will check the order totals" {
		t.Errorf("summary = %q", summary)
	}
	if rows[1].Kind != DisplayText {
		t.Errorf("row 1 = %+v", rows[1])
	}
}

func TestDeriveThinkCallBecomesThinkingRow(t *testing.T) {
	rows := DeriveDisplayRows(RoleAssistant, []Part{
		ToolCall(ThinkTool, map[string]any{"thought": "the price list looks stale"}),
	})
	if len(rows) != 1 || rows[0].Kind != DisplayThinking {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].Content != "the price list looks stale" {
		t.Errorf("content = %q", rows[0].Content)
	}
}

func TestDeriveThinkResultProducesNoRow(t *testing.T) {
	rows := DeriveDisplayRows(RoleTool, []Part{
		ToolResult(ThinkTool, "[Thought recorded]", 0),
	})
	if len(rows) != 0 {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestDeriveActionRow(t *testing.T) {
	rows := DeriveDisplayRows(RoleAssistant, []Part{
		ToolCall("calculate", map[string]any{"expression": "2+2"}),
	})
	if len(rows) != 1 || rows[0].Kind != DisplayAction {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].Content != "Calling tool: calculate" {
		t.Errorf("content = %q", rows[0].Content)
	}
	if rows[0].Meta["summary"] != "Running a calculation" {
		t.Errorf("summary = %v", rows[0].Meta["summary"])
	}
	if rows[0].Meta["tool_name"] != "calculate" {
		t.Errorf("tool_name = %v", rows[0].Meta["tool_name"])
	}
}

func TestDeriveObservationTruncation(t *testing.T) {
	long := strings.Repeat("x", 2500)

	rows := DeriveDisplayRows(RoleTool, []Part{ToolResult("web_fetch", long, 10)})
	if len(rows[0].Content) != displayResultLimit+3 {
		t.Errorf("content length = %d", len(rows[0].Content))
	}
	if !strings.HasSuffix(rows[0].Content, "...") {
		t.Error("truncation marker missing")
	}

	// query_db is exempt: the UI renders the full payload.
	rows = DeriveDisplayRows(RoleTool, []Part{ToolResult("query_db", long, 10)})
	if len(rows[0].Content) != 2500 {
		t.Errorf("query_db content length = %d", len(rows[0].Content))
	}
}

func TestDeriveErrorObservation(t *testing.T) {
	rows := DeriveDisplayRows(RoleTool, []Part{
		ToolResult("web_fetch", "Error: ConnectionError: connection refused (after 3 attempts)", 42),
	})
	if len(rows) != 1 || rows[0].Kind != DisplayErrorObservation {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].Content != "Network connection failed" {
		t.Errorf("content = %q", rows[0].Content)
	}
	if rows[0].Meta["exc_type"] != "ConnectionError" {
		t.Errorf("exc_type = %v", rows[0].Meta["exc_type"])
	}
	if rows[0].Meta["duration_ms"] != int64(42) {
		t.Errorf("duration_ms = %v", rows[0].Meta["duration_ms"])
	}
}

func TestSummarize(t *testing.T) {
	if got := Summarize(""); got != "Reasoning" {
		t.Errorf("empty = %q", got)
	}
	if got := Summarize("Short thought"); got != "Short thought" {
		t.Errorf("short = %q", got)
	}
	long := strings.Repeat("a", 80)
	got := Summarize(long)
	if !strings.HasSuffix(got, "...") || len(got) > 60 {
		t.Errorf("long = %q", got)
	}
	if got := Summarize("First line\nsecond line"); got != "First line" {
		t.Errorf("newline split = %q", got)
	}
}

func TestActionSummaryFallback(t *testing.T) {
	if got := ActionSummary("parse_price_list"); got != "Calling parse_price_list" {
		t.Errorf("fallback = %q", got)
	}
}
