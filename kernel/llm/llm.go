// Package llm defines the provider contract and the canonical parsed
// response shape shared by every vendor adapter.
package llm

import (
	"context"
	"strings"
	"time"
)

// Parameter type names used in vendor-agnostic tool declarations.
const (
	TypeString  = "STRING"
	TypeNumber  = "NUMBER"
	TypeInteger = "INTEGER"
	TypeBoolean = "BOOLEAN"
)

// JSONType maps a vendor-agnostic parameter type to its JSON-schema name.
func JSONType(t string) string {
	switch strings.ToUpper(strings.TrimSpace(t)) {
	case TypeNumber:
		return "number"
	case TypeInteger:
		return "integer"
	case TypeBoolean:
		return "boolean"
	default:
		return "string"
	}
}

// Param describes one declared tool parameter.
// A parameter is required unless Required is explicitly false.
type Param struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    *bool  `json:"required,omitempty"`
}

// IsRequired reports whether the parameter must be supplied.
func (p Param) IsRequired() bool {
	return p.Required == nil || *p.Required
}

// ToolDeclaration is the vendor-agnostic tool schema handed to providers.
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  map[string]Param
}

// FunctionCall is one tool invocation requested by the model.
type FunctionCall struct {
	Name string
	Args map[string]any
	ID   string
}

// FunctionResponse carries one tool result back to the model.
type FunctionResponse struct {
	Name   string
	Result string
	ID     string
}

// Response is the canonical parsed shape every provider normalizes to.
// Raw holds the provider-native assistant items for this response; the
// engine appends them to history verbatim so vendor metadata (tool-call
// ids, thought signatures) round-trips without re-derivation.
type Response struct {
	TextParts        []string
	ThinkingParts    []string
	FunctionCalls    []FunctionCall
	PromptTokens     int
	CompletionTokens int
	Raw              []any
}

// Text joins the ordered text parts into the final answer candidate.
func (r *Response) Text() string {
	return strings.TrimSpace(strings.Join(r.TextParts, "\n"))
}

// Empty reports whether the provider returned nothing usable at all.
func (r *Response) Empty() bool {
	return r == nil ||
		(len(r.TextParts) == 0 && len(r.ThinkingParts) == 0 &&
			len(r.FunctionCalls) == 0 && len(r.Raw) == 0)
}

// Provider is the vendor adapter contract. History items are opaque to
// callers: each provider owns its native message representation and the
// Build* constructors are the only way history entries are produced.
type Provider interface {
	Name() string

	// Configure sets the system prompt, tool declarations and thinking
	// budget for subsequent Generate calls.
	Configure(systemPrompt string, tools []ToolDeclaration, thinkingBudget int) error

	// Generate runs one model call over the native history.
	Generate(ctx context.Context, history []any) (*Response, error)

	// BuildUserMessage wraps user text as a native history item.
	BuildUserMessage(text string) any

	// BuildToolResults wraps tool results as native history items. Some
	// vendors need one item per result, so a slice is returned.
	BuildToolResults(results []FunctionResponse) []any

	// BuildSystemInjection wraps a transient instruction as a native
	// history item (removed from history right after the next call).
	BuildSystemInjection(text string) any

	// BuildModelMessage reconstructs a native assistant item from stored
	// text and tool calls, for replaying persisted history.
	BuildModelMessage(text string, calls []FunctionCall) any

	// BuildEmptyModelMessage builds a placeholder assistant item used to
	// keep history alternation valid after an empty response.
	BuildEmptyModelMessage() any
}

// Config selects and tunes a provider.
type Config struct {
	Provider       string
	Model          string
	APIKey         string
	BaseURL        string
	ThinkingBudget int
	MaxRetries     int
	RetryDelay     time.Duration
	Timeout        time.Duration
}

// WithDefaults fills unset fields with the standard limits.
func (c Config) WithDefaults() Config {
	if c.ThinkingBudget == 0 {
		c.ThinkingBudget = 4096
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 120 * time.Second
	}
	return c
}
