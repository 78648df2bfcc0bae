package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/Terryzhang-jp/curise-agent/kernel/engine"
	"github.com/Terryzhang-jp/curise-agent/kernel/stream"
)

// renderer prints stream events to the terminal. One goroutine consumes
// the queue for the lifetime of the app, so the chat loop never blocks
// on display work.
type renderer struct {
	mu  sync.Mutex
	out io.Writer

	thinking *color.Color
	toolName *color.Color
	errText  *color.Color
	dim      *color.Color
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{
		out:      out,
		thinking: color.New(color.FgYellow),
		toolName: color.New(color.FgCyan, color.Bold),
		errText:  color.New(color.FgRed),
		dim:      color.New(color.Faint),
	}
}

// consume drains q until it is closed. The returned channel closes when
// the last event has been printed.
func (r *renderer) consume(ctx context.Context, q *stream.Queue) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			ev, err := q.Next(ctx)
			if err != nil {
				return
			}
			r.event(ev)
		}
	}()
	return done
}

// waitIdle blocks until the consumer caught up with everything the run
// pushed. Events are enqueued synchronously, so an empty queue means
// the display is current.
func (r *renderer) waitIdle(q *stream.Queue) {
	for q.Len() > 0 {
		time.Sleep(10 * time.Millisecond)
	}
}

func (r *renderer) event(ev stream.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch ev.Kind {
	case stream.KindToken:
		if content, ok := ev.Data["content"].(string); ok {
			fmt.Fprint(r.out, content)
		}
	case stream.KindTokenDone:
		fmt.Fprintln(r.out)
	case stream.KindStep:
		r.step(ev.Data)
	}
}

func (r *renderer) step(data map[string]any) {
	stepType, _ := data["step_type"].(string)
	content, _ := data["content"].(string)
	toolName, _ := data["tool_name"].(string)

	switch stepType {
	case engine.StepThinking, engine.StepReflection:
		r.thinking.Fprintf(r.out, "~ %s\n", firstLine(content))
	case engine.StepToolCall:
		r.toolName.Fprintf(r.out, "-> %s\n", content)
	case engine.StepToolResult:
		label := toolName
		if label == "" {
			label = "tool"
		}
		r.dim.Fprintf(r.out, "<- [%s] %s\n", label, firstLine(content))
	case engine.StepError:
		r.errText.Fprintf(r.out, "! %s\n", content)
	case engine.StepFinalAnswer:
		// The answer itself arrives as a token stream right after.
		fmt.Fprintln(r.out)
	}
}

// pause reports a human-in-the-loop stop.
func (r *renderer) pause(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolName.Fprintf(r.out, "[Paused for review] %s\n", reason)
	r.dim.Fprintln(r.out, "Reply to continue the run.")
}

func (r *renderer) info(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dim.Fprintf(r.out, format+"\n", args...)
}

// firstLine clips multi-line content for single-line step output.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx] + " ..."
	}
	if len([]rune(s)) > 160 {
		s = string([]rune(s)[:160]) + "..."
	}
	return s
}
