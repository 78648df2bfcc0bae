package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestJSONType(t *testing.T) {
	cases := map[string]string{
		"STRING":  "string",
		"NUMBER":  "number",
		"INTEGER": "integer",
		"BOOLEAN": "boolean",
		"string":  "string",
		"":        "string",
		"BLOB":    "string",
	}
	for in, want := range cases {
		if got := JSONType(in); got != want {
			t.Errorf("JSONType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParamIsRequired(t *testing.T) {
	if !(Param{Type: TypeString}).IsRequired() {
		t.Error("unset Required should mean required")
	}
	no := false
	if (Param{Type: TypeString, Required: &no}).IsRequired() {
		t.Error("Required=false should mean optional")
	}
	yes := true
	if !(Param{Type: TypeString, Required: &yes}).IsRequired() {
		t.Error("Required=true should mean required")
	}
}

func TestResponseTextAndEmpty(t *testing.T) {
	r := &Response{TextParts: []string{"a", "b"}}
	if got := r.Text(); got != "a\nb" {
		t.Errorf("Text() = %q", got)
	}
	if r.Empty() {
		t.Error("response with text should not be empty")
	}
	if !(&Response{}).Empty() {
		t.Error("zero response should be empty")
	}
	var nilResp *Response
	if !nilResp.Empty() {
		t.Error("nil response should be empty")
	}
	if (&Response{ThinkingParts: []string{"hm"}}).Empty() {
		t.Error("thinking-only response should not be empty")
	}
}

func TestGenerateWithRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	resp, err := GenerateWithRetry(context.Background(), 2, time.Millisecond, func(ctx context.Context) (*Response, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("boom")
		}
		return &Response{TextParts: []string{"ok"}}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if resp.Text() != "ok" {
		t.Errorf("unexpected response %q", resp.Text())
	}
}

func TestGenerateWithRetryExhausts(t *testing.T) {
	calls := 0
	_, err := GenerateWithRetry(context.Background(), 2, time.Millisecond, func(ctx context.Context) (*Response, error) {
		calls++
		return nil, errors.New("down")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Errorf("error should report attempt count, got %q", err)
	}
}

func TestGenerateWithRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := GenerateWithRetry(ctx, 3, time.Hour, func(ctx context.Context) (*Response, error) {
		calls++
		return nil, errors.New("down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{Provider: "gemini", Model: "gemini-2.0-flash"}.WithDefaults()
	if cfg.ThinkingBudget != 4096 {
		t.Errorf("ThinkingBudget = %d", cfg.ThinkingBudget)
	}
	if cfg.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d", cfg.MaxRetries)
	}
	if cfg.RetryDelay != time.Second {
		t.Errorf("RetryDelay = %v", cfg.RetryDelay)
	}
}
