package engine

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Terryzhang-jp/curise-agent/kernel/llm"
	"github.com/Terryzhang-jp/curise-agent/kernel/session"
)

// loadHistory reconstructs the provider-native history from storage.
// When the session has a compaction summary, reconstruction starts at
// the summary message so earlier turns never reach the provider again.
func (e *Engine) loadHistory(ctx context.Context) ([]any, error) {
	sess, err := e.store.GetSession(ctx, e.sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	msgs, err := e.store.ListMessages(ctx, e.sessionID, sess.SummaryMessageID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	var history []any
	for _, msg := range msgs {
		history = append(history, e.messageToProvider(msg)...)
	}
	return history, nil
}

// messageToProvider converts one canonical message into zero or more
// provider-native messages. Thinking parts are presentation-only and
// never replayed.
func (e *Engine) messageToProvider(msg *session.Message) []any {
	switch msg.Role {
	case session.RoleUser:
		var texts []string
		var results []llm.FunctionResponse
		for _, p := range msg.Parts {
			switch part := p.(type) {
			case session.TextPart:
				texts = append(texts, part.Text)
			case session.ToolResultPart:
				results = append(results, llm.FunctionResponse{Name: part.Name, Result: part.Result})
			}
		}
		if len(results) > 0 {
			return e.provider.BuildToolResults(results)
		}
		if len(texts) > 0 {
			return []any{e.provider.BuildUserMessage(strings.Join(texts, "\n"))}
		}

	case session.RoleAssistant:
		var texts []string
		var calls []llm.FunctionCall
		for _, p := range msg.Parts {
			switch part := p.(type) {
			case session.TextPart:
				texts = append(texts, part.Text)
			case session.ToolCallPart:
				calls = append(calls, llm.FunctionCall{Name: part.Name, Args: part.Args})
			}
		}
		if len(texts) > 0 || len(calls) > 0 {
			return []any{e.provider.BuildModelMessage(strings.Join(texts, "\n"), calls)}
		}

	case session.RoleTool:
		var results []llm.FunctionResponse
		for _, p := range msg.Parts {
			if part, ok := p.(session.ToolResultPart); ok {
				results = append(results, llm.FunctionResponse{Name: part.Name, Result: part.Result})
			}
		}
		if len(results) > 0 {
			return e.provider.BuildToolResults(results)
		}
	}
	return nil
}

// callSignature fingerprints a tool call for loop detection. JSON
// marshaling sorts map keys, so argument order never changes the
// signature.
func callSignature(name string, args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", args))
	}
	sum := md5.Sum(data)
	return name + ":" + hex.EncodeToString(sum[:])[:8]
}
