// Package tool implements the tool registry: declaration, glob-based
// permission gating, schema validation of arguments and execution with
// bounded retry on transient failures. Execute never returns an error;
// every failure becomes model-visible text, because the model must be
// able to see and react to tool failures as part of its reasoning.
package tool

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Terryzhang-jp/curise-agent/kernel/llm"
	"github.com/Terryzhang-jp/curise-agent/kernel/toolctx"
)

// maxAttempts is the total execution attempts for transient failures.
const maxAttempts = 3

// Handler executes one tool call and returns model-visible text.
type Handler func(ctx context.Context, tc *toolctx.Context, args map[string]any) (string, error)

// Def declares one registered tool.
type Def struct {
	Name        string
	Description string
	Parameters  map[string]llm.Param
	Group       string
	Examples    []string
	Handler     Handler
}

// Action is a permission decision for a matched rule.
type Action string

const (
	ActionAllow Action = "allow"
	ActionAsk   Action = "ask"
	ActionDeny  Action = "deny"
)

// Rule matches tool names by glob pattern. The first matching rule wins;
// unmatched tools default to allow.
type Rule struct {
	Pattern string
	Action  Action
}

// Approver answers an "ask" permission check. Nil approver means decline.
type Approver func(name string, args map[string]any) bool

type registered struct {
	def    Def
	schema *jsonschema.Schema
}

// Registry holds tool definitions and executes calls against a shared
// tool context.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]*registered
	order    []string
	rules    []Rule
	approver Approver
	tctx     *toolctx.Context

	// retryDelay is the backoff base between transient attempts,
	// multiplied by the attempt number. Tests shrink it.
	retryDelay time.Duration
}

// NewRegistry returns an empty registry bound to tc.
func NewRegistry(tc *toolctx.Context) *Registry {
	return &Registry{
		tools:      make(map[string]*registered),
		tctx:       tc,
		retryDelay: time.Second,
	}
}

// Context returns the tool context shared by all handlers.
func (r *Registry) Context() *toolctx.Context {
	return r.tctx
}

// SetRetryDelay overrides the transient-retry backoff base.
func (r *Registry) SetRetryDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retryDelay = d
}

// Register adds a tool definition, compiling its argument schema.
// Re-registering a name replaces the previous definition.
func (r *Registry) Register(def Def) error {
	if strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("tool: empty name")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool: %q has no handler", def.Name)
	}
	schema, err := compileSchema(def.Name, def.Parameters)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.tools[def.Name] = &registered{def: def, schema: schema}
	return nil
}

// Remove drops a tool by name. Unknown names are ignored.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names lists registered tools in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// SetPermissions replaces the permission rule list.
func (r *Registry) SetPermissions(rules []Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append([]Rule(nil), rules...)
}

// SetApprover installs the callback answering "ask" rules.
func (r *Registry) SetApprover(fn Approver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.approver = fn
}

// Declarations exports vendor-agnostic tool schemas, optionally filtered
// to the given groups. Handlers and permission rules never leak.
func (r *Registry) Declarations(groups ...string) []llm.ToolDeclaration {
	want := make(map[string]bool, len(groups))
	for _, g := range groups {
		want[g] = true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.ToolDeclaration, 0, len(r.order))
	for _, name := range r.order {
		reg := r.tools[name]
		if len(want) > 0 && !want[reg.def.Group] {
			continue
		}
		params := make(map[string]llm.Param, len(reg.def.Parameters))
		for k, v := range reg.def.Parameters {
			params[k] = v
		}
		out = append(out, llm.ToolDeclaration{
			Name:        reg.def.Name,
			Description: reg.def.Description,
			Parameters:  params,
		})
	}
	return out
}

// Execute runs one tool call and always returns model-visible text.
// Lookup failure, permission denial, invalid arguments and handler
// failures all come back as "Error: ..." strings, never as errors.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) string {
	r.mu.RLock()
	reg, ok := r.tools[name]
	rules := r.rules
	approver := r.approver
	delay := r.retryDelay
	r.mu.RUnlock()

	if !ok {
		available := strings.Join(r.Names(), ", ")
		return fmt.Sprintf("Error: ToolNotFound: unknown tool %q (available: %s)", name, available)
	}

	switch decide(rules, name) {
	case ActionDeny:
		return fmt.Sprintf("Error: PermissionDenied: tool %q is denied by policy", name)
	case ActionAsk:
		if approver == nil || !approver(name, args) {
			return fmt.Sprintf("Error: PermissionDenied: approval declined for tool %q", name)
		}
	}

	if err := validateArgs(reg.schema, args); err != nil {
		return fmt.Sprintf("Error: InvalidArguments: %v", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		out, err := reg.def.Handler(ctx, r.tctx, args)
		if err == nil {
			return out
		}
		lastErr = err
		if _, transient := classify(err); !transient {
			return formatError(err)
		}
		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return formatError(ctx.Err())
			case <-time.After(delay * time.Duration(attempt+1)):
			}
		}
	}
	return fmt.Sprintf("%s (after %d attempts)", formatError(lastErr), maxAttempts)
}

// decide evaluates permission rules in order; first glob match wins.
func decide(rules []Rule, name string) Action {
	for _, rule := range rules {
		matched, err := path.Match(rule.Pattern, name)
		if err != nil || !matched {
			continue
		}
		return rule.Action
	}
	return ActionAllow
}

// SortedGroups lists distinct tool groups, for policy configuration UIs.
func (r *Registry) SortedGroups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, name := range r.order {
		g := r.tools[name].def.Group
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}
