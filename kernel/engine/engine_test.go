package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Terryzhang-jp/curise-agent/kernel/llm"
	"github.com/Terryzhang-jp/curise-agent/kernel/session"
	"github.com/Terryzhang-jp/curise-agent/kernel/session/memstore"
	"github.com/Terryzhang-jp/curise-agent/kernel/tool"
	"github.com/Terryzhang-jp/curise-agent/kernel/toolctx"
)

// stubTurn is one scripted provider response.
type stubTurn struct {
	resp *llm.Response
	err  error
}

// stubProvider replays scripted turns and snapshots every history it
// was handed, so tests can assert on what the model would have seen.
type stubProvider struct {
	mu           sync.Mutex
	turns        []stubTurn
	calls        int
	histories    [][]any
	systemPrompt string
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Configure(systemPrompt string, tools []llm.ToolDeclaration, thinkingBudget int) error {
	p.systemPrompt = systemPrompt
	return nil
}

func (p *stubProvider) Generate(ctx context.Context, history []any) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snapshot := make([]any, len(history))
	copy(snapshot, history)
	p.histories = append(p.histories, snapshot)
	if p.calls >= len(p.turns) {
		return nil, errors.New("stub: no scripted turn left")
	}
	turn := p.turns[p.calls]
	p.calls++
	return turn.resp, turn.err
}

func (p *stubProvider) generateCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *stubProvider) BuildUserMessage(text string) any {
	return map[string]any{"role": "user", "text": text}
}

func (p *stubProvider) BuildToolResults(results []llm.FunctionResponse) []any {
	out := make([]any, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]any{"role": "tool", "name": r.Name, "result": r.Result})
	}
	return out
}

func (p *stubProvider) BuildSystemInjection(text string) any {
	return map[string]any{"role": "system", "text": text}
}

func (p *stubProvider) BuildModelMessage(text string, calls []llm.FunctionCall) any {
	return map[string]any{"role": "model", "text": text, "calls": len(calls)}
}

func (p *stubProvider) BuildEmptyModelMessage() any {
	return map[string]any{"role": "model", "text": "(empty)"}
}

func textResp(text string) *llm.Response {
	return &llm.Response{
		TextParts:        []string{text},
		Raw:              []any{map[string]any{"role": "model", "text": text}},
		PromptTokens:     10,
		CompletionTokens: 5,
	}
}

func callResp(calls ...llm.FunctionCall) *llm.Response {
	return &llm.Response{
		FunctionCalls:    calls,
		Raw:              []any{map[string]any{"role": "model", "calls": len(calls)}},
		PromptTokens:     10,
		CompletionTokens: 5,
	}
}

func echoTool(counter *int32) tool.Def {
	return tool.Def{
		Name:        "echo",
		Description: "Echo the value back.",
		Parameters: map[string]llm.Param{
			"value": {Type: llm.TypeString, Description: "Value to echo"},
		},
		Handler: func(ctx context.Context, tc *toolctx.Context, args map[string]any) (string, error) {
			if counter != nil {
				*counter++
			}
			value, _ := args["value"].(string)
			return "echo: " + value, nil
		},
	}
}

type harness struct {
	engine    *Engine
	store     *memstore.Store
	provider  *stubProvider
	sessionID string
}

func newHarness(t *testing.T, cfg Config, turns []stubTurn, defs ...tool.Def) *harness {
	t.Helper()
	store := memstore.New()
	sess, err := store.CreateSession(context.Background(), "test")
	if err != nil {
		t.Fatal(err)
	}
	reg := tool.NewRegistry(toolctx.New())
	reg.SetRetryDelay(time.Millisecond)
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			t.Fatal(err)
		}
	}
	provider := &stubProvider{turns: turns}

	cfg.Provider = provider
	cfg.Store = store
	cfg.Registry = reg
	cfg.SessionID = sess.ID
	if cfg.Model == "" {
		cfg.Model = "stub-1"
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = "You are a test agent."
	}
	eng, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return &harness{engine: eng, store: store, provider: provider, sessionID: sess.ID}
}

func (h *harness) messages(t *testing.T) []*session.Message {
	t.Helper()
	msgs, err := h.store.ListMessages(context.Background(), h.sessionID, "")
	if err != nil {
		t.Fatal(err)
	}
	return msgs
}

func historyContains(history []any, substr string) bool {
	for _, m := range history {
		if strings.Contains(fmt.Sprint(m), substr) {
			return true
		}
	}
	return false
}

func stepTypes(steps []Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Type
	}
	return out
}

func TestRunFinalAnswer(t *testing.T) {
	h := newHarness(t, Config{}, []stubTurn{{resp: textResp("All done.")}})

	out, err := h.engine.Run(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if out != "All done." {
		t.Errorf("out = %q", out)
	}

	msgs := h.messages(t)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].Role != session.RoleUser || msgs[1].Role != session.RoleAssistant {
		t.Errorf("roles = %s, %s", msgs[0].Role, msgs[1].Role)
	}
	if reason, ok := session.FinishReasonOf(msgs[1].Parts); !ok || reason != session.FinishStop {
		t.Errorf("finish = %v %v", reason, ok)
	}

	sess, err := h.store.GetSession(context.Background(), h.sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if sess.PromptTokens != 10 || sess.CompletionTokens != 5 {
		t.Errorf("usage = %d/%d", sess.PromptTokens, sess.CompletionTokens)
	}

	types := stepTypes(h.engine.Steps())
	if types[0] != StepUserInput || types[len(types)-1] != StepFinalAnswer {
		t.Errorf("steps = %v", types)
	}
}

func TestRunToolRoundTrip(t *testing.T) {
	var calls int32
	h := newHarness(t, Config{}, []stubTurn{
		{resp: callResp(llm.FunctionCall{Name: "echo", Args: map[string]any{"value": "hi"}})},
		{resp: textResp("done")},
	}, echoTool(&calls))

	out, err := h.engine.Run(context.Background(), "say hi")
	if err != nil {
		t.Fatal(err)
	}
	if out != "done" {
		t.Errorf("out = %q", out)
	}
	if calls != 1 {
		t.Errorf("tool calls = %d", calls)
	}

	msgs := h.messages(t)
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	if msgs[1].Role != session.RoleAssistant || msgs[2].Role != session.RoleTool {
		t.Errorf("roles = %s, %s", msgs[1].Role, msgs[2].Role)
	}
	result, ok := msgs[2].Parts[0].(session.ToolResultPart)
	if !ok || result.Result != "echo: hi" {
		t.Errorf("tool result part = %#v", msgs[2].Parts[0])
	}

	// The second provider call must have seen the unaltered observation.
	if len(h.provider.histories) != 2 {
		t.Fatalf("generate calls = %d", len(h.provider.histories))
	}
	if !historyContains(h.provider.histories[1], "echo: hi") {
		t.Errorf("second history missing tool result: %v", h.provider.histories[1])
	}
}

func TestRunParallelResultsKeepCallOrder(t *testing.T) {
	slow := tool.Def{
		Name:        "slow_echo",
		Description: "Echo after a delay.",
		Parameters: map[string]llm.Param{
			"value": {Type: llm.TypeString, Description: "Value"},
			"ms":    {Type: llm.TypeNumber, Description: "Delay in milliseconds"},
		},
		Handler: func(ctx context.Context, tc *toolctx.Context, args map[string]any) (string, error) {
			ms, _ := args["ms"].(float64)
			time.Sleep(time.Duration(ms) * time.Millisecond)
			value, _ := args["value"].(string)
			return value, nil
		},
	}
	h := newHarness(t, Config{}, []stubTurn{
		{resp: callResp(
			llm.FunctionCall{Name: "slow_echo", Args: map[string]any{"value": "first", "ms": float64(60)}},
			llm.FunctionCall{Name: "slow_echo", Args: map[string]any{"value": "second", "ms": float64(20)}},
			llm.FunctionCall{Name: "slow_echo", Args: map[string]any{"value": "third", "ms": float64(1)}},
		)},
		{resp: textResp("done")},
	}, slow)

	if _, err := h.engine.Run(context.Background(), "go"); err != nil {
		t.Fatal(err)
	}

	msgs := h.messages(t)
	toolMsg := msgs[2]
	if toolMsg.Role != session.RoleTool || len(toolMsg.Parts) != 3 {
		t.Fatalf("tool message = %#v", toolMsg)
	}
	want := []string{"first", "second", "third"}
	for i, part := range toolMsg.Parts {
		result, ok := part.(session.ToolResultPart)
		if !ok || result.Result != want[i] {
			t.Errorf("part %d = %#v, want result %q", i, part, want[i])
		}
	}
}

func TestRunThinkShortCircuit(t *testing.T) {
	// think is not registered; a short-circuited call never reaches the
	// registry, so the ack proves no dispatch happened.
	h := newHarness(t, Config{}, []stubTurn{
		{resp: callResp(llm.FunctionCall{Name: "think", Args: map[string]any{"thought": "pondering"}})},
		{resp: textResp("done")},
	})

	if _, err := h.engine.Run(context.Background(), "go"); err != nil {
		t.Fatal(err)
	}

	msgs := h.messages(t)
	result, ok := msgs[2].Parts[0].(session.ToolResultPart)
	if !ok || result.Result != thinkAck {
		t.Errorf("think result = %#v", msgs[2].Parts[0])
	}

	var sawReflection, sawToolCall bool
	for _, s := range h.engine.Steps() {
		switch s.Type {
		case StepReflection:
			if s.Content == "pondering" {
				sawReflection = true
			}
		case StepToolCall:
			sawToolCall = true
		}
	}
	if !sawReflection || sawToolCall {
		t.Errorf("reflection=%v toolCall=%v", sawReflection, sawToolCall)
	}
}

func TestRunHITLPause(t *testing.T) {
	review := tool.Def{
		Name:        "submit_review",
		Description: "Ask the user to review.",
		Parameters: map[string]llm.Param{
			"reason": {Type: llm.TypeString, Description: "Why review is needed"},
		},
		Handler: func(ctx context.Context, tc *toolctx.Context, args map[string]any) (string, error) {
			reason, _ := args["reason"].(string)
			tc.RequestPause(reason, nil)
			return "review requested", nil
		},
	}
	h := newHarness(t, Config{}, []stubTurn{
		{resp: callResp(llm.FunctionCall{Name: "submit_review", Args: map[string]any{"reason": "price mismatch"}})},
	}, review)

	out, err := h.engine.Run(context.Background(), "go")
	if err != nil {
		t.Fatal(err)
	}
	if out != PauseSentinel+"price mismatch" {
		t.Errorf("out = %q", out)
	}
	if h.provider.generateCalls() != 1 {
		t.Errorf("generate calls = %d, want 1", h.provider.generateCalls())
	}

	msgs := h.messages(t)
	last := msgs[len(msgs)-1]
	text, ok := last.Parts[0].(session.TextPart)
	if !ok || text.Text != "[Awaiting user review] price mismatch" {
		t.Errorf("pause message = %#v", last.Parts[0])
	}
	if reason, ok := session.FinishReasonOf(last.Parts); !ok || reason != session.FinishHITLPause {
		t.Errorf("finish = %v %v", reason, ok)
	}
	if paused, _, _ := h.engine.Context().PauseRequested(); paused {
		t.Error("pause flag should be cleared after the run returns")
	}
}

func TestRunMaxTurns(t *testing.T) {
	var calls int32
	call := stubTurn{resp: callResp(llm.FunctionCall{Name: "echo", Args: map[string]any{"value": "x"}})}
	h := newHarness(t, Config{MaxTurns: 3}, []stubTurn{call, call, call}, echoTool(&calls))

	out, err := h.engine.Run(context.Background(), "go")
	if err != nil {
		t.Fatal(err)
	}
	if out != "Agent reached max turns (3) without a final answer." {
		t.Errorf("out = %q", out)
	}
	if h.provider.generateCalls() != 3 {
		t.Errorf("generate calls = %d, want 3", h.provider.generateCalls())
	}

	msgs := h.messages(t)
	last := msgs[len(msgs)-1]
	if reason, ok := session.FinishReasonOf(last.Parts); !ok || reason != session.FinishMaxTurns {
		t.Errorf("finish = %v %v", reason, ok)
	}
}

func TestRunLoopWarningInjected(t *testing.T) {
	var calls int32
	same := stubTurn{resp: callResp(llm.FunctionCall{Name: "echo", Args: map[string]any{"value": "x"}})}
	h := newHarness(t, Config{LoopThreshold: 2}, []stubTurn{
		same, same, same,
		{resp: textResp("breaking out")},
	}, echoTool(&calls))

	out, err := h.engine.Run(context.Background(), "go")
	if err != nil {
		t.Fatal(err)
	}
	if out != "breaking out" {
		t.Errorf("out = %q", out)
	}

	// Two prior identical signatures reach the threshold on the third
	// call; the warning shows up in the next provider call's history.
	if historyContains(h.provider.histories[2], "Repeated calls") {
		t.Error("warning injected too early")
	}
	if !historyContains(h.provider.histories[3], "Repeated calls") {
		t.Errorf("fourth history missing loop warning: %v", h.provider.histories[3])
	}
}

func TestRunTransientInjectionsRemoved(t *testing.T) {
	var calls int32
	h := newHarness(t, Config{MaxTurns: 5, WarnTurnsRemaining: 5}, []stubTurn{
		{resp: callResp(llm.FunctionCall{Name: "echo", Args: map[string]any{"value": "x"}})},
		{resp: textResp("done")},
	}, echoTool(&calls))
	h.engine.Context().AddTodo("reconcile totals")

	if _, err := h.engine.Run(context.Background(), "go"); err != nil {
		t.Fatal(err)
	}

	// Turn 1: budget warning present (remaining == warn threshold), no
	// todo injection yet.
	if !historyContains(h.provider.histories[0], "turns remaining") {
		t.Error("first history missing budget warning")
	}
	if historyContains(h.provider.histories[0], "Current task list") {
		t.Error("todo state injected on the first turn")
	}
	// Turn 2: todo state present, previous turn's warning gone.
	if !historyContains(h.provider.histories[1], "reconcile totals") {
		t.Errorf("second history missing todo state: %v", h.provider.histories[1])
	}
	if historyContains(h.provider.histories[1], "turns remaining") {
		t.Error("budget warning leaked into the second turn")
	}
}

func TestRunEmptyResponseConsumesTurn(t *testing.T) {
	h := newHarness(t, Config{}, []stubTurn{
		{resp: &llm.Response{}},
		{resp: textResp("recovered")},
	})

	out, err := h.engine.Run(context.Background(), "go")
	if err != nil {
		t.Fatal(err)
	}
	if out != "recovered" {
		t.Errorf("out = %q", out)
	}
	if !historyContains(h.provider.histories[1], "(empty)") {
		t.Errorf("second history missing empty placeholder: %v", h.provider.histories[1])
	}
}

func TestRunProviderFailureReturnsMessage(t *testing.T) {
	h := newHarness(t, Config{}, []stubTurn{{err: errors.New("quota exhausted")}})

	// The error return is reserved for storage failures; a dead provider
	// surfaces as the persisted failure message.
	out, err := h.engine.Run(context.Background(), "go")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "LLM API call failed (turn 1)") {
		t.Errorf("out = %q", out)
	}

	msgs := h.messages(t)
	last := msgs[len(msgs)-1]
	if reason, ok := session.FinishReasonOf(last.Parts); !ok || reason != session.FinishError {
		t.Errorf("finish = %v %v", reason, ok)
	}
	if h.provider.generateCalls() != 1 {
		t.Errorf("generate calls = %d", h.provider.generateCalls())
	}
}

func TestRunSlashCommand(t *testing.T) {
	h := newHarness(t, Config{}, []stubTurn{{resp: textResp("hi")}})
	h.engine.Context().RegisterSkill(toolctx.Skill{Name: "greet", Body: "Hello $ARGUMENTS."})

	if _, err := h.engine.Run(context.Background(), "/greet world"); err != nil {
		t.Fatal(err)
	}

	msgs := h.messages(t)
	text, ok := msgs[0].Parts[0].(session.TextPart)
	if !ok || text.Text != "Hello world." {
		t.Errorf("user message = %#v", msgs[0].Parts[0])
	}
	steps := h.engine.Steps()
	if !strings.HasPrefix(steps[0].Content, "[Skill invoked] ") {
		t.Errorf("step = %q", steps[0].Content)
	}
}

func TestCompact(t *testing.T) {
	var calls int32
	h := newHarness(t, Config{}, []stubTurn{
		{resp: callResp(llm.FunctionCall{Name: "echo", Args: map[string]any{"value": "hi"}})},
		{resp: textResp("done")},
		{resp: textResp("the summary")},
		{resp: textResp("after compact")},
	}, echoTool(&calls))
	ctx := context.Background()

	if _, err := h.engine.Run(ctx, "say hi"); err != nil {
		t.Fatal(err)
	}

	out, err := h.engine.Compact(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "the summary") {
		t.Errorf("out = %q", out)
	}

	sess, err := h.store.GetSession(ctx, h.sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if sess.SummaryMessageID == "" {
		t.Fatal("summary pointer not set")
	}
	msgs := h.messages(t)
	last := msgs[len(msgs)-1]
	if last.ID != sess.SummaryMessageID || last.Role != session.RoleUser {
		t.Errorf("summary message = %#v", last)
	}

	// The next run reloads from the summary onward.
	if _, err := h.engine.Run(ctx, "next question"); err != nil {
		t.Fatal(err)
	}
	lastHistory := h.provider.histories[len(h.provider.histories)-1]
	if !historyContains(lastHistory, "[Conversation summary]") {
		t.Errorf("history missing summary: %v", lastHistory)
	}
	if historyContains(lastHistory, "say hi") {
		t.Errorf("history still carries pre-summary turns: %v", lastHistory)
	}
}

func TestCompactEmptySession(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	out, err := h.engine.Compact(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if out != "The session has no messages; nothing to compact." {
		t.Errorf("out = %q", out)
	}
	if h.provider.generateCalls() != 0 {
		t.Errorf("generate calls = %d", h.provider.generateCalls())
	}
}

func TestNewRequiresWiring(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("want error for missing provider")
	}
}

func TestNewSessionSwitches(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	sess, err := h.engine.NewSession(context.Background(), "fresh")
	if err != nil {
		t.Fatal(err)
	}
	if h.engine.SessionID() != sess.ID {
		t.Errorf("session id = %q, want %q", h.engine.SessionID(), sess.ID)
	}
	if err := h.engine.SwitchSession(""); err == nil {
		t.Error("want error for empty id")
	}
}
