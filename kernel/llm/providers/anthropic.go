package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Terryzhang-jp/curise-agent/kernel/llm"
)

// anthropicMaxTokens is the response budget when thinking is disabled.
// With thinking enabled the budget grows so the final answer still has
// room after the thinking tokens.
const anthropicMaxTokens = 8192

// Anthropic talks to the Claude Messages API. History entries are
// anthropic.MessageParam values; raw responses re-enter the history via
// Message.ToParam so thinking signatures survive multi-turn tool loops.
type Anthropic struct {
	client anthropic.Client
	cfg    llm.Config

	system         []anthropic.TextBlockParam
	tools          []anthropic.ToolUnionParam
	thinkingBudget int64
}

// NewAnthropic builds an Anthropic provider. A non-empty BaseURL
// overrides the default endpoint, which also covers proxies.
func NewAnthropic(cfg llm.Config) (*Anthropic, error) {
	cfg = cfg.WithDefaults()
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("providers: anthropic: api key is required")
	}
	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{client: anthropic.NewClient(options...), cfg: cfg}, nil
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Configure(systemPrompt string, tools []llm.ToolDeclaration, thinkingBudget int) error {
	a.system = nil
	if strings.TrimSpace(systemPrompt) != "" {
		a.system = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	converted, err := toAnthropicTools(tools)
	if err != nil {
		return fmt.Errorf("providers: anthropic: %w", err)
	}
	a.tools = converted
	a.thinkingBudget = int64(thinkingBudget)
	return nil
}

func (a *Anthropic) Generate(ctx context.Context, history []any) (*llm.Response, error) {
	messages := make([]anthropic.MessageParam, 0, len(history))
	for _, entry := range history {
		msg, ok := entry.(anthropic.MessageParam)
		if !ok {
			return nil, fmt.Errorf("providers: anthropic: unexpected history entry %T", entry)
		}
		messages = append(messages, msg)
	}

	maxTokens := int64(anthropicMaxTokens)
	if a.thinkingBudget >= maxTokens {
		maxTokens = a.thinkingBudget + 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.cfg.Model),
		MaxTokens: maxTokens,
		Messages:  messages,
		System:    a.system,
		Tools:     a.tools,
	}
	if a.thinkingBudget > 0 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(a.thinkingBudget)
	}

	resp, err := llm.GenerateWithRetry(ctx, a.cfg.MaxRetries, a.cfg.RetryDelay, func(ctx context.Context) (*llm.Response, error) {
		raw, err := a.client.Messages.New(ctx, params)
		if err != nil {
			return nil, err
		}
		return a.toResponse(raw)
	})
	if err != nil {
		return nil, fmt.Errorf("providers: anthropic: %w", err)
	}
	return resp, nil
}

func (a *Anthropic) toResponse(raw *anthropic.Message) (*llm.Response, error) {
	out := &llm.Response{
		PromptTokens:     int(raw.Usage.InputTokens),
		CompletionTokens: int(raw.Usage.OutputTokens),
	}
	for _, block := range raw.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.TextParts = append(out.TextParts, variant.Text)
		case anthropic.ThinkingBlock:
			out.ThinkingParts = append(out.ThinkingParts, variant.Thinking)
		case anthropic.ToolUseBlock:
			args := map[string]any{}
			if len(variant.Input) > 0 {
				if err := json.Unmarshal(variant.Input, &args); err != nil {
					return nil, fmt.Errorf("tool input for %s: %w", variant.Name, err)
				}
			}
			out.FunctionCalls = append(out.FunctionCalls, llm.FunctionCall{
				Name: variant.Name,
				Args: args,
				ID:   variant.ID,
			})
		}
	}
	if len(raw.Content) > 0 {
		out.Raw = []any{raw.ToParam()}
	}
	return out, nil
}

func (a *Anthropic) BuildUserMessage(text string) any {
	return anthropic.NewUserMessage(anthropic.NewTextBlock(text))
}

func (a *Anthropic) BuildToolResults(results []llm.FunctionResponse) []any {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, anthropic.NewToolResultBlock(r.ID, r.Result, false))
	}
	return []any{anthropic.NewUserMessage(blocks...)}
}

func (a *Anthropic) BuildSystemInjection(text string) any {
	return a.BuildUserMessage(text)
}

func (a *Anthropic) BuildModelMessage(text string, calls []llm.FunctionCall) any {
	var blocks []anthropic.ContentBlockParamUnion
	if strings.TrimSpace(text) != "" {
		blocks = append(blocks, anthropic.NewTextBlock(text))
	}
	for _, call := range calls {
		blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, call.Args, call.Name))
	}
	if len(blocks) == 0 {
		blocks = append(blocks, anthropic.NewTextBlock("(continued)"))
	}
	return anthropic.NewAssistantMessage(blocks...)
}

func (a *Anthropic) BuildEmptyModelMessage() any {
	return anthropic.NewAssistantMessage(anthropic.NewTextBlock("(empty response)"))
}

func toAnthropicTools(decls []llm.ToolDeclaration) ([]anthropic.ToolUnionParam, error) {
	if len(decls) == 0 {
		return nil, nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(decls))
	for _, decl := range decls {
		var schema anthropic.ToolInputSchemaParam
		raw, err := json.Marshal(jsonSchema(decl.Parameters))
		if err != nil {
			return nil, fmt.Errorf("tool schema for %s: %w", decl.Name, err)
		}
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("tool schema for %s: %w", decl.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, decl.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("tool schema for %s: missing tool definition", decl.Name)
		}
		param.OfTool.Description = anthropic.String(decl.Description)
		out = append(out, param)
	}
	return out, nil
}

// jsonSchema renders the parameter map as a plain JSON Schema object.
// Shared by the OpenAI-compatible providers, which take the schema
// verbatim.
func jsonSchema(params map[string]llm.Param) map[string]any {
	properties := make(map[string]any, len(params))
	var required []string
	for name, p := range params {
		properties[name] = map[string]any{
			"type":        llm.JSONType(p.Type),
			"description": p.Description,
		}
		if p.IsRequired() {
			required = append(required, name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sort.Strings(required)
		schema["required"] = required
	}
	return schema
}
