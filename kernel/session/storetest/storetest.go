// Package storetest is the conformance suite every Store implementation
// runs. It pins the dual-write and ordering invariants so in-memory and
// SQLite stores behave identically under the engine.
package storetest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Terryzhang-jp/curise-agent/kernel/session"
	"github.com/Terryzhang-jp/curise-agent/kernel/stream"
)

// Factory builds a fresh empty store per subtest.
type Factory func(t *testing.T) session.Store

// Run executes the conformance suite against the given factory.
func Run(t *testing.T, factory Factory) {
	t.Run("SessionLifecycle", func(t *testing.T) { testSessionLifecycle(t, factory(t)) })
	t.Run("MessageRoundTrip", func(t *testing.T) { testMessageRoundTrip(t, factory(t)) })
	t.Run("DualWrite", func(t *testing.T) { testDualWrite(t, factory(t)) })
	t.Run("FromIDFiltering", func(t *testing.T) { testFromIDFiltering(t, factory(t)) })
	t.Run("TokenUsage", func(t *testing.T) { testTokenUsage(t, factory(t)) })
	t.Run("StreamFinalAnswer", func(t *testing.T) { testStreamFinalAnswer(t, factory(t)) })
}

func testSessionLifecycle(t *testing.T, s session.Store) {
	ctx := context.Background()

	if _, err := s.GetSession(ctx, "missing"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("GetSession(missing) err = %v, want ErrSessionNotFound", err)
	}

	sess, err := s.CreateSession(ctx, "procurement chat")
	if err != nil {
		t.Fatal(err)
	}
	if sess.ID == "" {
		t.Fatal("session id must be assigned")
	}

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "procurement chat" {
		t.Errorf("title = %q", got.Title)
	}
	if got.SummaryMessageID != "" {
		t.Errorf("new session must have no summary pointer, got %q", got.SummaryMessageID)
	}

	title := "renamed"
	pointer := "msg-1"
	if err := s.UpdateSession(ctx, sess.ID, session.SessionUpdate{Title: &title, SummaryMessageID: &pointer}); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "renamed" || got.SummaryMessageID != "msg-1" {
		t.Errorf("updated session = %+v", got)
	}

	if err := s.UpdateSession(ctx, "missing", session.SessionUpdate{Title: &title}); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("UpdateSession(missing) err = %v", err)
	}
}

func testMessageRoundTrip(t *testing.T, s session.Store) {
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "t")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := session.AddUserMessage(ctx, s, sess.ID, "what is 2+2"); err != nil {
		t.Fatal(err)
	}
	assistantParts := []session.Part{
		session.Thinking("simple arithmetic"),
		session.ToolCall("calculate", map[string]any{"expression": "2+2"}),
	}
	if _, err := session.AddAssistantMessage(ctx, s, sess.ID, assistantParts, "gemini-2.0-flash"); err != nil {
		t.Fatal(err)
	}
	if _, err := session.AddToolMessage(ctx, s, sess.ID, []session.Part{session.ToolResult("calculate", "4", 3)}); err != nil {
		t.Fatal(err)
	}

	msgs, err := s.ListMessages(ctx, sess.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Sequence <= msgs[i-1].Sequence {
			t.Errorf("sequence not strictly increasing: %d then %d", msgs[i-1].Sequence, msgs[i].Sequence)
		}
	}
	if msgs[0].Role != session.RoleUser || msgs[1].Role != session.RoleAssistant || msgs[2].Role != session.RoleTool {
		t.Errorf("roles = %s %s %s", msgs[0].Role, msgs[1].Role, msgs[2].Role)
	}
	if msgs[1].Model != "gemini-2.0-flash" {
		t.Errorf("model = %q", msgs[1].Model)
	}

	call, ok := msgs[1].Parts[1].(session.ToolCallPart)
	if !ok {
		t.Fatalf("part 1 = %T", msgs[1].Parts[1])
	}
	if call.Name != "calculate" || call.Args["expression"] != "2+2" {
		t.Errorf("tool call lost fidelity: %+v", call)
	}
	result, ok := msgs[2].Parts[0].(session.ToolResultPart)
	if !ok || result.Result != "4" || result.DurationMS != 3 {
		t.Errorf("tool result lost fidelity: %+v", msgs[2].Parts[0])
	}
}

func testDualWrite(t *testing.T, s session.Store) {
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "t")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := session.AddUserMessage(ctx, s, sess.ID, "check the fleet"); err != nil {
		t.Fatal(err)
	}
	if _, err := session.AddAssistantMessage(ctx, s, sess.ID, []session.Part{
		session.ToolCall(session.ThinkTool, map[string]any{"thought": "need the schedule first"}),
		session.ToolCall("web_fetch", map[string]any{"url": "https://example.com"}),
	}, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := session.AddToolMessage(ctx, s, sess.ID, []session.Part{
		session.ToolResult(session.ThinkTool, "[Thought recorded]", 0),
		session.ToolResult("web_fetch", "Error: ConnectionError: refused", 9),
	}); err != nil {
		t.Fatal(err)
	}

	rows, err := s.ListDisplayRows(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	kinds := make([]string, len(rows))
	for i, r := range rows {
		kinds[i] = r.Kind
	}
	want := []string{
		session.DisplayUserInput,
		session.DisplayThinking,
		session.DisplayAction,
		session.DisplayErrorObservation,
	}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Fatalf("display kinds = %v, want %v", kinds, want)
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].Sequence <= rows[i-1].Sequence {
			t.Errorf("display sequence not increasing at %d", i)
		}
	}
	if rows[3].Content != "Network connection failed" {
		t.Errorf("error row content = %q", rows[3].Content)
	}
	if rows[3].Meta["exc_type"] != "ConnectionError" {
		t.Errorf("error row meta = %v", rows[3].Meta)
	}

	// Canonical history is untouched by display classification.
	msgs, err := s.ListMessages(ctx, sess.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	raw := msgs[2].Parts[1].(session.ToolResultPart).Result
	if raw != "Error: ConnectionError: refused" {
		t.Errorf("canonical error text altered: %q", raw)
	}
}

func testFromIDFiltering(t *testing.T, s session.Store) {
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "t")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := session.AddUserMessage(ctx, s, sess.ID, "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := session.AddAssistantMessage(ctx, s, sess.ID, []session.Part{session.Text("old answer")}, ""); err != nil {
		t.Fatal(err)
	}
	summary, err := s.CreateMessage(ctx, sess.ID, session.RoleUser, []session.Part{session.Text("[Conversation summary]\nfirst exchange")}, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := session.AddUserMessage(ctx, s, sess.ID, "second"); err != nil {
		t.Fatal(err)
	}

	msgs, err := s.ListMessages(ctx, sess.ID, summary.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("filtered messages = %d, want 2 (summary + newer)", len(msgs))
	}
	if msgs[0].ID != summary.ID {
		t.Errorf("summary message must be included first, got %s", msgs[0].ID)
	}
}

func testTokenUsage(t *testing.T, s session.Store) {
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "t")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddTokenUsage(ctx, sess.ID, 100, 20); err != nil {
		t.Fatal(err)
	}
	if err := s.AddTokenUsage(ctx, sess.ID, 50, 5); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.PromptTokens != 150 || got.CompletionTokens != 25 {
		t.Errorf("token usage = %d/%d, want 150/25", got.PromptTokens, got.CompletionTokens)
	}
}

func testStreamFinalAnswer(t *testing.T, s session.Store) {
	streamer, ok := s.(session.AnswerStreamer)
	if !ok {
		t.Skip("store does not implement AnswerStreamer")
	}
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "t")
	if err != nil {
		t.Fatal(err)
	}

	q := stream.NewQueue()
	parts := []session.Part{session.Text("2+2 is 4"), session.Finish(session.FinishStop)}
	msg, err := streamer.StreamFinalAnswer(ctx, sess.ID, parts, "2+2 is 4", "m", q)
	if err != nil {
		t.Fatal(err)
	}
	q.Close()

	var rebuilt strings.Builder
	var done bool
	for {
		ev, err := q.Next(ctx)
		if errors.Is(err, stream.ErrClosed) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		switch ev.Kind {
		case stream.KindToken:
			rebuilt.WriteString(ev.Data["content"].(string))
		case stream.KindTokenDone:
			done = true
		}
	}
	if rebuilt.String() != "2+2 is 4" || !done {
		t.Errorf("streamed %q done=%v", rebuilt.String(), done)
	}

	msgs, err := s.ListMessages(ctx, sess.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != msg.ID {
		t.Fatalf("persisted messages = %d", len(msgs))
	}
	if reason, ok := session.FinishReasonOf(msgs[0].Parts); !ok || reason != session.FinishStop {
		t.Errorf("finish reason = %q ok=%v", reason, ok)
	}
}
