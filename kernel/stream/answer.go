package stream

import (
	"context"
	"time"
)

// Final-answer pacing: 4 characters per 20ms reads as smooth typing
// without one event per character.
const (
	answerChunkRunes    = 4
	answerChunkInterval = 20 * time.Millisecond
)

// Answer streams finalText as token events followed by one token_done
// event carrying the full content. The persisted message already exists;
// this only paces the live delivery.
func Answer(ctx context.Context, q *Queue, msgID, finalText string) {
	if q == nil {
		return
	}
	runes := []rune(finalText)
	pace := true
	for i := 0; i < len(runes); i += answerChunkRunes {
		end := i + answerChunkRunes
		if end > len(runes) {
			end = len(runes)
		}
		q.Push(Event{Kind: KindToken, Data: map[string]any{
			"content":  string(runes[i:end]),
			"msg_id":   msgID,
			"role":     "assistant",
			"msg_type": "text",
		}})
		if pace && end < len(runes) {
			select {
			case <-ctx.Done():
				// Flush the rest without pacing once the caller is gone.
				pace = false
			case <-time.After(answerChunkInterval):
			}
		}
	}
	q.Push(Event{Kind: KindTokenDone, Data: map[string]any{
		"msg_id":       msgID,
		"full_content": finalText,
	}})
}
