package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Terryzhang-jp/curise-agent/kernel/session"
)

const (
	compactResultLimit     = 200
	compactTranscriptLimit = 10000
)

var compactRoleLabels = map[string]string{
	session.RoleUser:      "User",
	session.RoleAssistant: "Assistant",
	session.RoleTool:      "Tool",
}

// Compact summarizes the whole conversation into one message and moves
// the session's summary pointer onto it. Later runs reload only the
// summary and the messages after it; nothing is deleted. Compacting an
// already-compacted session summarizes again from the full transcript,
// so repeating it never loses information.
func (e *Engine) Compact(ctx context.Context) (string, error) {
	msgs, err := e.store.ListMessages(ctx, e.sessionID, "")
	if err != nil {
		return "", fmt.Errorf("engine: list messages: %w", err)
	}
	if len(msgs) == 0 {
		return "The session has no messages; nothing to compact.", nil
	}

	var lines []string
	for _, msg := range msgs {
		label, ok := compactRoleLabels[msg.Role]
		if !ok {
			label = msg.Role
		}
		for _, p := range msg.Parts {
			switch part := p.(type) {
			case session.TextPart:
				lines = append(lines, label+": "+part.Text)
			case session.ToolCallPart:
				args, _ := json.Marshal(part.Args)
				lines = append(lines, fmt.Sprintf("Assistant calls tool: %s(%s)", part.Name, args))
			case session.ToolResultPart:
				lines = append(lines, fmt.Sprintf("Tool result[%s]: %s", part.Name, clipRunes(part.Result, compactResultLimit)))
			}
		}
	}

	fullText := strings.Join(lines, "\n")
	if len([]rune(fullText)) > compactTranscriptLimit {
		fullText = string([]rune(fullText)[:compactTranscriptLimit]) + "\n... (truncated)"
	}

	prompt := "Summarize the key content of the conversation below. Focus on:\n" +
		"1. Steps already completed and their results\n" +
		"2. What is currently in progress\n" +
		"3. What needs to happen next\n" +
		"4. Important intermediate results and figures (counts, match rates, ...)\n\n" +
		"Keep the summary concise:\n\n" +
		fullText

	resp, err := e.provider.Generate(ctx, []any{e.provider.BuildUserMessage(prompt)})
	if err != nil {
		return "", fmt.Errorf("engine: summary generation failed: %w", err)
	}
	summary := resp.Text()
	if summary == "" {
		summary = "(summary generation failed)"
	}

	summaryMsg, err := session.AddUserMessage(ctx, e.store, e.sessionID,
		"[Conversation summary] The following summarizes the earlier conversation:\n\n"+summary)
	if err != nil {
		return "", fmt.Errorf("engine: persist summary: %w", err)
	}
	if err := e.store.UpdateSession(ctx, e.sessionID, session.SessionUpdate{SummaryMessageID: &summaryMsg.ID}); err != nil {
		return "", fmt.Errorf("engine: update summary pointer: %w", err)
	}

	return "Context compacted. Summary saved.\n\nSummary:\n" + summary, nil
}
