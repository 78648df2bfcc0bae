package main

import (
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/Terryzhang-jp/curise-agent/kernel/engine"
	"github.com/Terryzhang-jp/curise-agent/kernel/stream"
)

func renderEvents(t *testing.T, events ...stream.Event) string {
	t.Helper()
	color.NoColor = true
	var buf strings.Builder
	r := newRenderer(&buf)
	for _, ev := range events {
		r.event(ev)
	}
	return buf.String()
}

func stepEvent(stepType, content string, extra map[string]any) stream.Event {
	data := map[string]any{"step_type": stepType, "content": content}
	for k, v := range extra {
		data[k] = v
	}
	return stream.Event{Kind: stream.KindStep, Data: data}
}

func TestRendererSteps(t *testing.T) {
	out := renderEvents(t,
		stepEvent(engine.StepThinking, "plan the fetch\nsecond line", nil),
		stepEvent(engine.StepToolCall, "Calling web_fetch", nil),
		stepEvent(engine.StepToolResult, "<html>body</html>", map[string]any{"tool_name": "web_fetch"}),
		stepEvent(engine.StepError, "tool exploded", nil),
	)
	for _, want := range []string{
		"~ plan the fetch ...",
		"-> Calling web_fetch",
		"<- [web_fetch] <html>body</html>",
		"! tool exploded",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRendererTokens(t *testing.T) {
	out := renderEvents(t,
		stream.Event{Kind: stream.KindToken, Data: map[string]any{"content": "Hello, "}},
		stream.Event{Kind: stream.KindToken, Data: map[string]any{"content": "world."}},
		stream.Event{Kind: stream.KindTokenDone, Data: map[string]any{}},
	)
	if !strings.HasPrefix(out, "Hello, world.\n") {
		t.Errorf("output = %q", out)
	}
}

func TestFirstLineClipsLongContent(t *testing.T) {
	long := strings.Repeat("x", 200)
	got := firstLine(long)
	if len([]rune(got)) != 163 || !strings.HasSuffix(got, "...") {
		t.Errorf("clipped = %q (len %d)", got, len([]rune(got)))
	}
	if firstLine("one\ntwo") != "one ..." {
		t.Errorf("multi-line = %q", firstLine("one\ntwo"))
	}
}
