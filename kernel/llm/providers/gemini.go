// Package providers implements the llm.Provider contract on top of the
// vendor SDKs. Each provider keeps its history in the vendor's native
// message type so multi-turn tool loops round-trip without translation
// loss; the engine treats those histories as opaque values.
package providers

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"google.golang.org/genai"

	"github.com/Terryzhang-jp/curise-agent/kernel/llm"
)

// Gemini talks to the Google Gemini API through the Gen AI SDK.
// History entries are *genai.Content values.
type Gemini struct {
	client *genai.Client
	cfg    llm.Config

	system         *genai.Content
	tools          []*genai.Tool
	thinkingBudget int32
}

// NewGemini builds a Gemini provider. The API key is required; model
// and retry settings come from cfg with the usual defaults applied.
func NewGemini(ctx context.Context, cfg llm.Config) (*Gemini, error) {
	cfg = cfg.WithDefaults()
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("providers: gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("providers: gemini: create client: %w", err)
	}
	return &Gemini{client: client, cfg: cfg}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Configure(systemPrompt string, tools []llm.ToolDeclaration, thinkingBudget int) error {
	g.system = nil
	if strings.TrimSpace(systemPrompt) != "" {
		g.system = &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}}
	}
	g.tools = toGeminiTools(tools)
	g.thinkingBudget = int32(thinkingBudget)
	return nil
}

func (g *Gemini) Generate(ctx context.Context, history []any) (*llm.Response, error) {
	contents := make([]*genai.Content, 0, len(history))
	for _, entry := range history {
		content, ok := entry.(*genai.Content)
		if !ok {
			return nil, fmt.Errorf("providers: gemini: unexpected history entry %T", entry)
		}
		contents = append(contents, content)
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: g.system,
		Tools:             g.tools,
	}
	if g.thinkingBudget > 0 {
		config.ThinkingConfig = &genai.ThinkingConfig{
			ThinkingBudget:  genai.Ptr(g.thinkingBudget),
			IncludeThoughts: true,
		}
	}

	resp, err := llm.GenerateWithRetry(ctx, g.cfg.MaxRetries, g.cfg.RetryDelay, func(ctx context.Context) (*llm.Response, error) {
		raw, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, contents, config)
		if err != nil {
			return nil, err
		}
		return g.toResponse(raw), nil
	})
	if err != nil {
		return nil, fmt.Errorf("providers: gemini: %w", err)
	}
	return resp, nil
}

func (g *Gemini) toResponse(raw *genai.GenerateContentResponse) *llm.Response {
	out := &llm.Response{}
	if raw.UsageMetadata != nil {
		out.PromptTokens = int(raw.UsageMetadata.PromptTokenCount)
		out.CompletionTokens = int(raw.UsageMetadata.CandidatesTokenCount)
	}
	if len(raw.Candidates) == 0 || raw.Candidates[0].Content == nil {
		return out
	}
	content := raw.Candidates[0].Content
	for _, part := range content.Parts {
		if part == nil {
			continue
		}
		switch {
		case part.Thought && part.Text != "":
			out.ThinkingParts = append(out.ThinkingParts, part.Text)
		case part.Text != "":
			out.TextParts = append(out.TextParts, part.Text)
		}
		if part.FunctionCall != nil {
			out.FunctionCalls = append(out.FunctionCalls, llm.FunctionCall{
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
				ID:   part.FunctionCall.ID,
			})
		}
	}
	out.Raw = []any{content}
	return out
}

func (g *Gemini) BuildUserMessage(text string) any {
	return &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: text}}}
}

// BuildToolResults returns a single user-role content; Gemini expects
// function responses on the user side, one part per result.
func (g *Gemini) BuildToolResults(results []llm.FunctionResponse) []any {
	parts := make([]*genai.Part, 0, len(results))
	for _, r := range results {
		parts = append(parts, &genai.Part{
			FunctionResponse: &genai.FunctionResponse{
				ID:       r.ID,
				Name:     r.Name,
				Response: map[string]any{"result": r.Result},
			},
		})
	}
	return []any{&genai.Content{Role: genai.RoleUser, Parts: parts}}
}

func (g *Gemini) BuildSystemInjection(text string) any {
	return g.BuildUserMessage(text)
}

func (g *Gemini) BuildModelMessage(text string, calls []llm.FunctionCall) any {
	parts := make([]*genai.Part, 0, len(calls)+1)
	if strings.TrimSpace(text) != "" {
		parts = append(parts, &genai.Part{Text: text})
	}
	for _, call := range calls {
		parts = append(parts, &genai.Part{
			FunctionCall: &genai.FunctionCall{ID: call.ID, Name: call.Name, Args: call.Args},
		})
	}
	if len(parts) == 0 {
		parts = append(parts, &genai.Part{Text: "(continued)"})
	}
	return &genai.Content{Role: genai.RoleModel, Parts: parts}
}

func (g *Gemini) BuildEmptyModelMessage() any {
	return &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: "(empty response)"}}}
}

func toGeminiTools(decls []llm.ToolDeclaration) []*genai.Tool {
	if len(decls) == 0 {
		return nil
	}
	fns := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, decl := range decls {
		fns = append(fns, &genai.FunctionDeclaration{
			Name:        decl.Name,
			Description: decl.Description,
			Parameters:  toGeminiSchema(decl.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: fns}}
}

func toGeminiSchema(params map[string]llm.Param) *genai.Schema {
	if len(params) == 0 {
		return nil
	}
	schema := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: make(map[string]*genai.Schema, len(params)),
	}
	for name, p := range params {
		schema.Properties[name] = &genai.Schema{
			Type:        genai.Type(p.Type),
			Description: p.Description,
		}
		if p.IsRequired() {
			schema.Required = append(schema.Required, name)
		}
	}
	sort.Strings(schema.Required)
	return schema
}
