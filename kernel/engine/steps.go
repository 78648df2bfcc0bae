package engine

import (
	"time"

	"github.com/Terryzhang-jp/curise-agent/kernel/stream"
)

// Step kinds, in the order a typical turn produces them.
const (
	StepUserInput   = "user_input"
	StepThinking    = "thinking"
	StepReflection  = "reflection"
	StepToolCall    = "tool_call"
	StepToolResult  = "tool_result"
	StepError       = "error"
	StepFinalAnswer = "final_answer"
)

// Step is one observable event of a run. The step log is rebuilt on
// every Run call; consumers needing durable history read the store.
type Step struct {
	Type       string         `json:"type"`
	Content    string         `json:"content"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolArgs   map[string]any `json:"tool_args,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// emit records the step, invokes the OnStep callback and mirrors the
// step onto the stream queue. Safe for concurrent use; tool workers
// emit results from their own goroutines.
func (e *Engine) emit(s Step) {
	s.Timestamp = time.Now()

	e.stepMu.Lock()
	e.stepLog = append(e.stepLog, s)
	count := len(e.stepLog)
	e.stepMu.Unlock()

	e.log.Debug("step", "type", s.Type, "tool", s.ToolName)

	if e.cfg.OnStep != nil {
		e.cfg.OnStep(s, count)
	}
	if e.queue != nil {
		data := map[string]any{
			"step_type": s.Type,
			"content":   s.Content,
		}
		if s.ToolName != "" {
			data["tool_name"] = s.ToolName
		}
		if s.DurationMS > 0 {
			data["duration_ms"] = s.DurationMS
		}
		e.queue.Push(stream.Event{Kind: stream.KindStep, Data: data})
	}
}

// Steps returns a copy of the step log of the most recent Run.
func (e *Engine) Steps() []Step {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()
	out := make([]Step, len(e.stepLog))
	copy(out, e.stepLog)
	return out
}

func (e *Engine) resetSteps() {
	e.stepMu.Lock()
	e.stepLog = nil
	e.stepMu.Unlock()
}
