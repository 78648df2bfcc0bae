package stream

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestQueuePushNext(t *testing.T) {
	q := NewQueue()
	q.Push(Event{Kind: KindMessage, Data: map[string]any{"n": 1}})
	q.Push(Event{Kind: KindMessage, Data: map[string]any{"n": 2}})

	ev, err := q.Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ev.Data["n"] != 1 {
		t.Errorf("events out of order: %v", ev)
	}
	ev, _ = q.Next(context.Background())
	if ev.Data["n"] != 2 {
		t.Errorf("events out of order: %v", ev)
	}
}

func TestQueueNextBlocksUntilPush(t *testing.T) {
	q := NewQueue()
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(Event{Kind: KindToken})
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := q.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != KindToken {
		t.Errorf("kind = %q", ev.Kind)
	}
}

func TestQueueCloseDrains(t *testing.T) {
	q := NewQueue()
	q.Push(Event{Kind: KindToken})
	q.Close()
	q.Push(Event{Kind: KindToken}) // dropped

	if _, err := q.Next(context.Background()); err != nil {
		t.Fatalf("buffered event must survive close: %v", err)
	}
	if _, err := q.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestQueueNextHonorsContext(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestAnswerChunksAndFinishes(t *testing.T) {
	q := NewQueue()
	Answer(context.Background(), q, "m1", "hello world")
	q.Close()

	var got strings.Builder
	var done bool
	for {
		ev, err := q.Next(context.Background())
		if errors.Is(err, ErrClosed) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		switch ev.Kind {
		case KindToken:
			chunk := ev.Data["content"].(string)
			if len([]rune(chunk)) > 4 {
				t.Errorf("chunk too large: %q", chunk)
			}
			got.WriteString(chunk)
		case KindTokenDone:
			done = true
			if ev.Data["full_content"] != "hello world" {
				t.Errorf("full_content = %v", ev.Data["full_content"])
			}
			if ev.Data["msg_id"] != "m1" {
				t.Errorf("msg_id = %v", ev.Data["msg_id"])
			}
		}
	}
	if got.String() != "hello world" {
		t.Errorf("reassembled = %q", got.String())
	}
	if !done {
		t.Error("token_done never delivered")
	}
}

func TestAnswerNilQueueIsNoop(t *testing.T) {
	Answer(context.Background(), nil, "m1", "text") // must not panic
}
