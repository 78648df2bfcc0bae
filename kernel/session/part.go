package session

import (
	"encoding/json"
	"fmt"
)

// Finish reasons attached to the message that ends a run.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishError     FinishReason = "error"
	FinishHITLPause FinishReason = "hitl_pause"
	FinishMaxTurns  FinishReason = "max_turns"
)

// Part is one typed fragment of a conversational turn. The concrete
// kinds are TextPart, ThinkingPart, ToolCallPart, ToolResultPart and
// FinishPart; the wire form is a {"type": ..., "data": {...}} envelope.
type Part interface {
	partKind() string
}

// TextPart is plain natural-language content.
type TextPart struct {
	Text string `json:"text"`
}

// ThinkingPart is a vendor reasoning-trace segment, displayed distinctly
// from the final answer and never fed back as an authoritative statement.
type ThinkingPart struct {
	Thinking string `json:"thinking"`
}

// ToolCallPart is a request to invoke a named tool.
type ToolCallPart struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResultPart is the textual outcome of a tool call. Errors are
// carried in Result with an "Error:" prefix, never as a separate field.
type ToolResultPart struct {
	Name       string `json:"name"`
	Result     string `json:"result"`
	DurationMS int64  `json:"duration_ms"`
}

// FinishPart terminates a run.
type FinishPart struct {
	Reason FinishReason `json:"reason"`
}

func (TextPart) partKind() string       { return "text" }
func (ThinkingPart) partKind() string   { return "thinking" }
func (ToolCallPart) partKind() string   { return "tool_call" }
func (ToolResultPart) partKind() string { return "tool_result" }
func (FinishPart) partKind() string     { return "finish" }

// Constructors mirror the canonical part shapes.

func Text(text string) Part { return TextPart{Text: text} }

func Thinking(thinking string) Part { return ThinkingPart{Thinking: thinking} }

func ToolCall(name string, args map[string]any) Part {
	return ToolCallPart{Name: name, Args: args}
}

func ToolResult(name, result string, durationMS int64) Part {
	return ToolResultPart{Name: name, Result: result, DurationMS: durationMS}
}

func Finish(reason FinishReason) Part { return FinishPart{Reason: reason} }

type partEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalParts encodes parts into the canonical JSON envelope list.
func MarshalParts(parts []Part) ([]byte, error) {
	out := make([]map[string]any, 0, len(parts))
	for _, p := range parts {
		if p == nil {
			continue
		}
		out = append(out, map[string]any{"type": p.partKind(), "data": p})
	}
	return json.Marshal(out)
}

// UnmarshalParts decodes a canonical JSON envelope list. Unknown part
// types are an error: a store that returns them is corrupt.
func UnmarshalParts(raw []byte) ([]Part, error) {
	var envelopes []partEnvelope
	if err := json.Unmarshal(raw, &envelopes); err != nil {
		return nil, fmt.Errorf("session: decode parts: %w", err)
	}
	parts := make([]Part, 0, len(envelopes))
	for _, env := range envelopes {
		var (
			part Part
			err  error
		)
		switch env.Type {
		case "text":
			var p TextPart
			err = json.Unmarshal(env.Data, &p)
			part = p
		case "thinking":
			var p ThinkingPart
			err = json.Unmarshal(env.Data, &p)
			part = p
		case "tool_call":
			var p ToolCallPart
			err = json.Unmarshal(env.Data, &p)
			part = p
		case "tool_result":
			var p ToolResultPart
			err = json.Unmarshal(env.Data, &p)
			part = p
		case "finish":
			var p FinishPart
			err = json.Unmarshal(env.Data, &p)
			part = p
		default:
			return nil, fmt.Errorf("session: unknown part type %q", env.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("session: decode %s part: %w", env.Type, err)
		}
		parts = append(parts, part)
	}
	return parts, nil
}

// FinishReasonOf returns the finish reason carried by parts, if any.
func FinishReasonOf(parts []Part) (FinishReason, bool) {
	for _, p := range parts {
		if f, ok := p.(FinishPart); ok {
			return f.Reason, true
		}
	}
	return "", false
}
