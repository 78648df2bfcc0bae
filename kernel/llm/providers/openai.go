package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Terryzhang-jp/curise-agent/kernel/llm"
)

// deepseekBaseURL is the default endpoint for the DeepSeek flavor.
const deepseekBaseURL = "https://api.deepseek.com/v1"

// OpenAI speaks the Chat Completions dialect. History entries are
// openai.ChatCompletionMessage values. DeepSeek and other compatible
// vendors reuse this provider with a different base URL; DeepSeek's
// reasoning_content surfaces as thinking parts.
type OpenAI struct {
	client *openai.Client
	cfg    llm.Config
	name   string

	system string
	tools  []openai.Tool
}

// NewOpenAI builds a Chat Completions provider against the standard
// OpenAI endpoint unless cfg.BaseURL says otherwise.
func NewOpenAI(cfg llm.Config) (*OpenAI, error) {
	return newOpenAICompatible("openai", cfg)
}

// NewDeepSeek builds the DeepSeek flavor of the Chat Completions
// provider. An empty BaseURL falls back to the public DeepSeek API.
func NewDeepSeek(cfg llm.Config) (*OpenAI, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = deepseekBaseURL
	}
	return newOpenAICompatible("deepseek", cfg)
}

func newOpenAICompatible(name string, cfg llm.Config) (*OpenAI, error) {
	cfg = cfg.WithDefaults()
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("providers: %s: api key is required", name)
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		name:   name,
	}, nil
}

func (o *OpenAI) Name() string { return o.name }

func (o *OpenAI) Configure(systemPrompt string, tools []llm.ToolDeclaration, thinkingBudget int) error {
	// thinkingBudget is accepted for interface parity; reasoning models
	// on this dialect manage their own budgets.
	o.system = systemPrompt
	o.tools = toOpenAITools(tools)
	return nil
}

func (o *OpenAI) Generate(ctx context.Context, history []any) (*llm.Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if strings.TrimSpace(o.system) != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: o.system,
		})
	}
	for _, entry := range history {
		msg, ok := entry.(openai.ChatCompletionMessage)
		if !ok {
			return nil, fmt.Errorf("providers: %s: unexpected history entry %T", o.name, entry)
		}
		messages = append(messages, msg)
	}

	req := openai.ChatCompletionRequest{
		Model:    o.cfg.Model,
		Messages: messages,
		Tools:    o.tools,
	}

	resp, err := llm.GenerateWithRetry(ctx, o.cfg.MaxRetries, o.cfg.RetryDelay, func(ctx context.Context) (*llm.Response, error) {
		raw, err := o.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return nil, err
		}
		return o.toResponse(raw)
	})
	if err != nil {
		return nil, fmt.Errorf("providers: %s: %w", o.name, err)
	}
	return resp, nil
}

func (o *OpenAI) toResponse(raw openai.ChatCompletionResponse) (*llm.Response, error) {
	out := &llm.Response{
		PromptTokens:     raw.Usage.PromptTokens,
		CompletionTokens: raw.Usage.CompletionTokens,
	}
	if len(raw.Choices) == 0 {
		return out, nil
	}
	msg := raw.Choices[0].Message
	if msg.ReasoningContent != "" {
		out.ThinkingParts = append(out.ThinkingParts, msg.ReasoningContent)
	}
	if msg.Content != "" {
		out.TextParts = append(out.TextParts, msg.Content)
	}
	for _, call := range msg.ToolCalls {
		args := map[string]any{}
		if strings.TrimSpace(call.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("tool arguments for %s: %w", call.Function.Name, err)
			}
		}
		out.FunctionCalls = append(out.FunctionCalls, llm.FunctionCall{
			Name: call.Function.Name,
			Args: args,
			ID:   call.ID,
		})
	}
	// reasoning_content must not be echoed back on later turns.
	msg.ReasoningContent = ""
	out.Raw = []any{msg}
	return out, nil
}

func (o *OpenAI) BuildUserMessage(text string) any {
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text}
}

// BuildToolResults returns one tool-role message per result, each bound
// to its originating call id.
func (o *OpenAI) BuildToolResults(results []llm.FunctionResponse) []any {
	out := make([]any, 0, len(results))
	for _, r := range results {
		out = append(out, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    r.Result,
			Name:       r.Name,
			ToolCallID: r.ID,
		})
	}
	return out
}

func (o *OpenAI) BuildSystemInjection(text string) any {
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: text}
}

func (o *OpenAI) BuildModelMessage(text string, calls []llm.FunctionCall) any {
	msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text}
	for _, call := range calls {
		args, err := json.Marshal(call.Args)
		if err != nil {
			args = []byte("{}")
		}
		msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
			ID:   call.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      call.Name,
				Arguments: string(args),
			},
		})
	}
	return msg
}

func (o *OpenAI) BuildEmptyModelMessage() any {
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "(empty response)"}
}

func toOpenAITools(decls []llm.ToolDeclaration) []openai.Tool {
	if len(decls) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(decls))
	for _, decl := range decls {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        decl.Name,
				Description: decl.Description,
				Parameters:  jsonSchema(decl.Parameters),
			},
		})
	}
	return out
}
