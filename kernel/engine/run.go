package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Terryzhang-jp/curise-agent/kernel/llm"
	"github.com/Terryzhang-jp/curise-agent/kernel/session"
)

// Run executes the ReAct loop for one user message and returns the
// final answer. A result prefixed with PauseSentinel means a tool
// requested human review; the remainder of the string is the reason.
// Exhausting the turn budget or losing the provider also returns the
// corresponding message with a nil error: the error return is reserved
// for storage and other internal failures.
func (e *Engine) Run(ctx context.Context, userMessage string) (string, error) {
	e.resetSteps()

	if expanded, wasSkill := e.tctx.ResolveSlashCommand(ctx, userMessage); wasSkill {
		userMessage = expanded
		e.emit(Step{Type: StepUserInput, Content: "[Skill invoked] " + clipRunes(userMessage, 200)})
	} else {
		e.emit(Step{Type: StepUserInput, Content: userMessage})
	}

	if _, err := session.AddUserMessage(ctx, e.store, e.sessionID, userMessage); err != nil {
		return "", fmt.Errorf("engine: persist user message: %w", err)
	}

	history, err := e.loadHistory(ctx)
	if err != nil {
		return "", fmt.Errorf("engine: load history: %w", err)
	}

	var totalPrompt, totalCompletion int
	flushUsage := func() {
		if totalPrompt == 0 && totalCompletion == 0 {
			return
		}
		if err := e.store.AddTokenUsage(ctx, e.sessionID, totalPrompt, totalCompletion); err != nil {
			e.log.Warn("token usage update failed", "session", e.sessionID, "error", err)
		}
	}

	for turn := 0; turn < e.cfg.MaxTurns; turn++ {
		remaining := e.cfg.MaxTurns - turn
		baseLen := len(history)

		if remaining == e.cfg.WarnTurnsRemaining {
			history = append(history, e.provider.BuildSystemInjection(fmt.Sprintf(
				"[System] %d/%d turns remaining. Summarize your progress and give a final answer soon. Prioritize the most important pending todos.",
				remaining, e.cfg.MaxTurns)))
		}
		if summary := e.tctx.TodoSummary(); summary != "" && turn > 0 {
			history = append(history, e.provider.BuildSystemInjection(summary))
		}

		resp, err := e.provider.Generate(ctx, history)

		// Budget warning and todo state are transient injections: drop
		// them before anything else lands in history.
		history = history[:baseLen]

		if err != nil {
			msg := fmt.Sprintf("LLM API call failed (turn %d): %v", turn+1, err)
			e.log.Error("provider failure", "session", e.sessionID, "turn", turn+1, "error", err)
			e.emit(Step{Type: StepError, Content: msg})
			errParts := []session.Part{session.Text(msg), session.Finish(session.FinishError)}
			if perr := e.persistAnswer(ctx, errParts, msg); perr != nil {
				e.log.Error("persist provider failure", "session", e.sessionID, "error", perr)
			}
			return msg, nil
		}

		totalPrompt += resp.PromptTokens
		totalCompletion += resp.CompletionTokens

		if resp.Empty() {
			e.log.Warn("empty model response, skipping turn", "turn", turn+1)
			history = append(history, e.provider.BuildEmptyModelMessage())
			continue
		}

		for _, tp := range resp.ThinkingParts {
			e.emit(Step{Type: StepThinking, Content: tp})
		}

		var parts []session.Part
		for _, tp := range resp.ThinkingParts {
			parts = append(parts, session.Thinking(tp))
		}
		for _, tp := range resp.TextParts {
			parts = append(parts, session.Text(tp))
		}
		for _, fc := range resp.FunctionCalls {
			parts = append(parts, session.ToolCall(fc.Name, fc.Args))
		}

		if len(resp.Raw) > 0 {
			history = append(history, resp.Raw...)
		} else {
			history = append(history, e.provider.BuildModelMessage(resp.Text(), resp.FunctionCalls))
		}

		if len(resp.FunctionCalls) == 0 {
			final := resp.Text()
			if final == "" {
				final = noAnswerText
			}
			e.emit(Step{Type: StepFinalAnswer, Content: final})
			parts = append(parts, session.Finish(session.FinishStop))
			if err := e.persistAnswer(ctx, parts, final); err != nil {
				return "", fmt.Errorf("engine: persist final answer: %w", err)
			}
			flushUsage()
			return final, nil
		}

		// Text alongside tool calls is intermediate reasoning.
		if text := resp.Text(); text != "" {
			e.emit(Step{Type: StepThinking, Content: text})
		}

		// Persist the assistant turn before executing anything, so a
		// crash mid-execution still leaves the tool_call record behind.
		if _, err := session.AddAssistantMessage(ctx, e.store, e.sessionID, parts, e.cfg.Model); err != nil {
			return "", fmt.Errorf("engine: persist assistant message: %w", err)
		}

		loopDetected := e.noteCalls(resp.FunctionCalls)

		responses, resultParts := e.executeCalls(ctx, resp.FunctionCalls)

		if _, err := session.AddToolMessage(ctx, e.store, e.sessionID, resultParts); err != nil {
			return "", fmt.Errorf("engine: persist tool results: %w", err)
		}
		history = append(history, e.provider.BuildToolResults(responses)...)

		if paused, reason, _ := e.tctx.PauseRequested(); paused {
			e.tctx.ClearPause()
			pauseMsg := "[Awaiting user review] " + reason
			pauseParts := []session.Part{session.Text(pauseMsg), session.Finish(session.FinishHITLPause)}
			if _, err := session.AddAssistantMessage(ctx, e.store, e.sessionID, pauseParts, e.cfg.Model); err != nil {
				return "", fmt.Errorf("engine: persist pause message: %w", err)
			}
			flushUsage()
			return PauseSentinel + reason, nil
		}

		if loopDetected {
			history = append(history, e.provider.BuildSystemInjection(
				"[System] Repeated calls to the same tool with the same arguments detected. Try a different approach or give a final answer."))
		}
	}

	msg := fmt.Sprintf("Agent reached max turns (%d) without a final answer.", e.cfg.MaxTurns)
	e.emit(Step{Type: StepError, Content: msg})
	budgetParts := []session.Part{session.Text(msg), session.Finish(session.FinishMaxTurns)}
	if _, err := session.AddAssistantMessage(ctx, e.store, e.sessionID, budgetParts, e.cfg.Model); err != nil {
		return "", fmt.Errorf("engine: persist max-turns message: %w", err)
	}
	flushUsage()
	return msg, nil
}

// noteCalls records the turn's tool-call signatures and reports whether
// any signature already saturated the detection window. Reflection
// calls are exempt.
func (e *Engine) noteCalls(calls []llm.FunctionCall) bool {
	detected := false
	for _, fc := range calls {
		if fc.Name == session.ThinkTool {
			continue
		}
		sig := callSignature(fc.Name, fc.Args)
		count := 0
		for _, s := range e.recentCalls {
			if s == sig {
				count++
			}
		}
		if count >= e.cfg.LoopThreshold {
			detected = true
		}
		e.recentCalls = append(e.recentCalls, sig)
		if len(e.recentCalls) > e.cfg.LoopWindow {
			e.recentCalls = e.recentCalls[len(e.recentCalls)-e.cfg.LoopWindow:]
		}
	}
	return detected
}

// executeCalls runs every tool call and returns the provider responses
// and storage parts, both indexed by the original call order. A single
// call runs inline; multiple calls share a bounded worker pool.
func (e *Engine) executeCalls(ctx context.Context, calls []llm.FunctionCall) ([]llm.FunctionResponse, []session.Part) {
	responses := make([]llm.FunctionResponse, len(calls))
	parts := make([]session.Part, len(calls))
	durations := make([]int64, len(calls))

	runOne := func(fc llm.FunctionCall) (string, int64) {
		if fc.Name == session.ThinkTool {
			return thinkAck, 0
		}
		start := time.Now()
		result := e.registry.Execute(ctx, fc.Name, fc.Args)
		return result, time.Since(start).Milliseconds()
	}

	if len(calls) == 1 {
		fc := calls[0]
		if fc.Name == session.ThinkTool {
			thought, _ := fc.Args["thought"].(string)
			e.emit(Step{Type: StepReflection, Content: thought})
		} else {
			e.emit(Step{Type: StepToolCall, Content: "Calling " + fc.Name, ToolName: fc.Name, ToolArgs: fc.Args})
		}
		result, dur := runOne(fc)
		if fc.Name != session.ThinkTool {
			e.emit(Step{Type: StepToolResult, Content: result, ToolName: fc.Name, DurationMS: dur})
		}
		responses[0] = llm.FunctionResponse{Name: fc.Name, Result: result, ID: fc.ID}
		parts[0] = session.ToolResult(fc.Name, result, dur)
		return responses, parts
	}

	for i, fc := range calls {
		if fc.Name == session.ThinkTool {
			thought, _ := fc.Args["thought"].(string)
			e.emit(Step{Type: StepReflection, Content: thought})
			continue
		}
		e.emit(Step{
			Type:     StepToolCall,
			Content:  fmt.Sprintf("Calling %s (parallel %d/%d)", fc.Name, i+1, len(calls)),
			ToolName: fc.Name,
			ToolArgs: fc.Args,
		})
	}

	sem := make(chan struct{}, min(len(calls), e.cfg.ParallelWorkers))
	var wg sync.WaitGroup
	for i, fc := range calls {
		wg.Add(1)
		go func(i int, fc llm.FunctionCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			result, dur := runOne(fc)
			responses[i] = llm.FunctionResponse{Name: fc.Name, Result: result, ID: fc.ID}
			parts[i] = session.ToolResult(fc.Name, result, dur)
			durations[i] = dur
		}(i, fc)
	}
	wg.Wait()

	for i, fc := range calls {
		if fc.Name == session.ThinkTool {
			continue
		}
		e.emit(Step{Type: StepToolResult, Content: responses[i].Result, ToolName: fc.Name, DurationMS: durations[i]})
	}
	return responses, parts
}

// persistAnswer writes the closing assistant message, streaming the
// final text token by token when the store supports it.
func (e *Engine) persistAnswer(ctx context.Context, parts []session.Part, finalText string) error {
	if streamer, ok := e.store.(session.AnswerStreamer); ok {
		_, err := streamer.StreamFinalAnswer(ctx, e.sessionID, parts, finalText, e.cfg.Model, e.queue)
		return err
	}
	_, err := session.AddAssistantMessage(ctx, e.store, e.sessionID, parts, e.cfg.Model)
	return err
}

func clipRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
