package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Terryzhang-jp/curise-agent/kernel/llm"
	"github.com/Terryzhang-jp/curise-agent/kernel/toolctx"
)

func newTestRegistry() *Registry {
	r := NewRegistry(toolctx.New())
	r.SetRetryDelay(time.Millisecond)
	return r
}

func echoDef(name string) Def {
	return Def{
		Name:        name,
		Description: "echoes its input",
		Parameters: map[string]llm.Param{
			"text": {Type: llm.TypeString, Description: "text to echo"},
		},
		Group: "utility",
		Handler: func(ctx context.Context, tc *toolctx.Context, args map[string]any) (string, error) {
			text, _ := args["text"].(string)
			return text, nil
		},
	}
}

func TestExecuteUnknownToolListsAvailable(t *testing.T) {
	r := newTestRegistry()
	if err := r.Register(echoDef("echo")); err != nil {
		t.Fatal(err)
	}
	out := r.Execute(context.Background(), "nope", nil)
	if !strings.HasPrefix(out, "Error: ToolNotFound:") {
		t.Fatalf("out = %q", out)
	}
	if !strings.Contains(out, "echo") {
		t.Errorf("available tools missing from %q", out)
	}
}

func TestExecuteHappyPath(t *testing.T) {
	r := newTestRegistry()
	if err := r.Register(echoDef("echo")); err != nil {
		t.Fatal(err)
	}
	out := r.Execute(context.Background(), "echo", map[string]any{"text": "hi"})
	if out != "hi" {
		t.Errorf("out = %q", out)
	}
}

func TestTransientRetriedThreeTimes(t *testing.T) {
	r := newTestRegistry()
	calls := 0
	def := echoDef("flaky")
	def.Handler = func(ctx context.Context, tc *toolctx.Context, args map[string]any) (string, error) {
		calls++
		return "", Connection(errors.New("connection refused"))
	}
	if err := r.Register(def); err != nil {
		t.Fatal(err)
	}
	out := r.Execute(context.Background(), "flaky", map[string]any{"text": "x"})
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !strings.HasPrefix(out, "Error: ConnectionError:") {
		t.Errorf("out = %q", out)
	}
	if !strings.Contains(out, "after 3 attempts") {
		t.Errorf("retry count missing from %q", out)
	}
}

func TestTransientRecoversMidRetry(t *testing.T) {
	r := newTestRegistry()
	calls := 0
	def := echoDef("flaky")
	def.Handler = func(ctx context.Context, tc *toolctx.Context, args map[string]any) (string, error) {
		calls++
		if calls < 2 {
			return "", Timeout(errors.New("deadline exceeded"))
		}
		return "ok", nil
	}
	if err := r.Register(def); err != nil {
		t.Fatal(err)
	}
	if out := r.Execute(context.Background(), "flaky", map[string]any{"text": "x"}); out != "ok" {
		t.Errorf("out = %q", out)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestNonTransientFailsImmediately(t *testing.T) {
	r := newTestRegistry()
	calls := 0
	def := echoDef("broken")
	def.Handler = func(ctx context.Context, tc *toolctx.Context, args map[string]any) (string, error) {
		calls++
		return "", fmt.Errorf("bad expression")
	}
	if err := r.Register(def); err != nil {
		t.Fatal(err)
	}
	out := r.Execute(context.Background(), "broken", map[string]any{"text": "x"})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if out != "Error: ToolError: bad expression" {
		t.Errorf("out = %q", out)
	}
}

func TestPermissionDeny(t *testing.T) {
	r := newTestRegistry()
	if err := r.Register(echoDef("query_db")); err != nil {
		t.Fatal(err)
	}
	r.SetPermissions([]Rule{{Pattern: "query_*", Action: ActionDeny}})
	out := r.Execute(context.Background(), "query_db", map[string]any{"text": "x"})
	if !strings.HasPrefix(out, "Error: PermissionDenied:") {
		t.Errorf("out = %q", out)
	}
}

func TestPermissionAsk(t *testing.T) {
	r := newTestRegistry()
	if err := r.Register(echoDef("deploy")); err != nil {
		t.Fatal(err)
	}
	r.SetPermissions([]Rule{{Pattern: "deploy", Action: ActionAsk}})

	// No approver installed: ask declines.
	out := r.Execute(context.Background(), "deploy", map[string]any{"text": "x"})
	if !strings.HasPrefix(out, "Error: PermissionDenied:") {
		t.Errorf("out = %q", out)
	}

	asked := false
	r.SetApprover(func(name string, args map[string]any) bool {
		asked = true
		return true
	})
	out = r.Execute(context.Background(), "deploy", map[string]any{"text": "x"})
	if out != "x" {
		t.Errorf("out = %q", out)
	}
	if !asked {
		t.Error("approver was not consulted")
	}
}

func TestPermissionFirstMatchWinsAndDefaultAllow(t *testing.T) {
	r := newTestRegistry()
	if err := r.Register(echoDef("web_fetch")); err != nil {
		t.Fatal(err)
	}
	r.SetPermissions([]Rule{
		{Pattern: "web_*", Action: ActionAllow},
		{Pattern: "*", Action: ActionDeny},
	})
	if out := r.Execute(context.Background(), "web_fetch", map[string]any{"text": "x"}); out != "x" {
		t.Errorf("out = %q", out)
	}

	r.SetPermissions(nil)
	if out := r.Execute(context.Background(), "web_fetch", map[string]any{"text": "x"}); out != "x" {
		t.Errorf("unmatched tool must default to allow, got %q", out)
	}
}

func TestInvalidArgumentsRejectedBeforeHandler(t *testing.T) {
	r := newTestRegistry()
	calls := 0
	def := Def{
		Name:        "calculate",
		Description: "evaluates an expression",
		Parameters: map[string]llm.Param{
			"expression": {Type: llm.TypeString},
		},
		Handler: func(ctx context.Context, tc *toolctx.Context, args map[string]any) (string, error) {
			calls++
			return "4", nil
		},
	}
	if err := r.Register(def); err != nil {
		t.Fatal(err)
	}

	out := r.Execute(context.Background(), "calculate", map[string]any{})
	if !strings.HasPrefix(out, "Error: InvalidArguments:") {
		t.Errorf("missing required arg: out = %q", out)
	}
	out = r.Execute(context.Background(), "calculate", map[string]any{"expression": 5})
	if !strings.HasPrefix(out, "Error: InvalidArguments:") {
		t.Errorf("wrong type: out = %q", out)
	}
	if calls != 0 {
		t.Errorf("handler ran %d times before validation", calls)
	}

	if out = r.Execute(context.Background(), "calculate", map[string]any{"expression": "2+2"}); out != "4" {
		t.Errorf("out = %q", out)
	}
}

func TestOptionalParameterAllowsOmission(t *testing.T) {
	r := newTestRegistry()
	optional := false
	def := Def{
		Name: "get_current_time",
		Parameters: map[string]llm.Param{
			"timezone": {Type: llm.TypeString, Required: &optional},
		},
		Handler: func(ctx context.Context, tc *toolctx.Context, args map[string]any) (string, error) {
			return "noon", nil
		},
	}
	if err := r.Register(def); err != nil {
		t.Fatal(err)
	}
	if out := r.Execute(context.Background(), "get_current_time", map[string]any{}); out != "noon" {
		t.Errorf("out = %q", out)
	}
}

func TestDeclarationsFilterByGroup(t *testing.T) {
	r := newTestRegistry()
	db := echoDef("query_db")
	db.Group = "database"
	if err := r.Register(echoDef("echo")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(db); err != nil {
		t.Fatal(err)
	}

	all := r.Declarations()
	if len(all) != 2 {
		t.Fatalf("all declarations = %d", len(all))
	}
	utility := r.Declarations("utility")
	if len(utility) != 1 || utility[0].Name != "echo" {
		t.Fatalf("utility declarations = %+v", utility)
	}
	if utility[0].Parameters["text"].Type != llm.TypeString {
		t.Errorf("parameter schema not exported: %+v", utility[0].Parameters)
	}
}

func TestRemoveAndNames(t *testing.T) {
	r := newTestRegistry()
	if err := r.Register(echoDef("a")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(echoDef("b")); err != nil {
		t.Fatal(err)
	}
	r.Remove("a")
	names := r.Names()
	if len(names) != 1 || names[0] != "b" {
		t.Errorf("names = %v", names)
	}
	r.Remove("missing") // no-op
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err       error
		kind      string
		transient bool
	}{
		{Connection(errors.New("x")), KindConnection, true},
		{Timeout(errors.New("x")), KindTimeout, true},
		{IO(errors.New("x")), KindOS, true},
		{context.DeadlineExceeded, KindTimeout, true},
		{Faultf("ValueError", "bad input"), "ValueError", false},
		{errors.New("plain"), "ToolError", false},
	}
	for _, tc := range cases {
		kind, transient := classify(tc.err)
		if kind != tc.kind || transient != tc.transient {
			t.Errorf("classify(%v) = %q/%v, want %q/%v", tc.err, kind, transient, tc.kind, tc.transient)
		}
	}
}
