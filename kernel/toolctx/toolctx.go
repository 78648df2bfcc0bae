// Package toolctx provides the mutable per-run scratchpad shared by every
// tool handler in one engine run. The engine dispatches tools from a bounded
// worker pool, so all state is guarded by an internal mutex; tool authors
// must go through the accessor methods rather than caching references.
package toolctx

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Todo statuses.
const (
	TodoPending    = "pending"
	TodoInProgress = "in_progress"
	TodoDone       = "done"
)

// TodoItem is one entry of the run-scoped checklist.
type TodoItem struct {
	ID     int    `json:"id"`
	Text   string `json:"text"`
	Status string `json:"status"`
}

// Context is the scratchpad threaded through every tool call of a run.
// Created once per engine instance and discarded when the run ends.
type Context struct {
	mu sync.Mutex

	sessionData map[string]any
	todos       []TodoItem
	nextTodoID  int

	shouldPause bool
	pauseReason string
	pauseData   map[string]any

	skills     map[string]Skill
	fileHashes map[string]string
}

// New returns an empty context.
func New() *Context {
	return &Context{
		sessionData: map[string]any{},
		skills:      map[string]Skill{},
		fileHashes:  map[string]string{},
		nextTodoID:  1,
	}
}

// SetSessionData stores one business-session value visible to all tools.
func (c *Context) SetSessionData(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionData[key] = value
}

// SessionData returns the stored value and whether it exists.
func (c *Context) SessionData(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.sessionData[key]
	return v, ok
}

// RequestPause sets the human-in-the-loop flag. The engine checks it once
// per turn, after every tool call of that turn has completed.
func (c *Context) RequestPause(reason string, data map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shouldPause = true
	c.pauseReason = reason
	c.pauseData = data
}

// PauseRequested reports the pause flag together with its reason and data.
func (c *Context) PauseRequested() (bool, string, map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shouldPause, c.pauseReason, c.pauseData
}

// ClearPause resets the pause state for a resumed run.
func (c *Context) ClearPause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shouldPause = false
	c.pauseReason = ""
	c.pauseData = nil
}

// AddTodo appends a pending checklist item and returns its id.
func (c *Context) AddTodo(text string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextTodoID
	c.nextTodoID++
	c.todos = append(c.todos, TodoItem{ID: id, Text: text, Status: TodoPending})
	return id
}

// UpdateTodo changes the status of one item.
func (c *Context) UpdateTodo(id int, status string) error {
	switch status {
	case TodoPending, TodoInProgress, TodoDone:
	default:
		return fmt.Errorf("toolctx: invalid todo status %q", status)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.todos {
		if c.todos[i].ID == id {
			c.todos[i].Status = status
			return nil
		}
	}
	return fmt.Errorf("toolctx: todo %d not found", id)
}

// ClearTodos drops the whole checklist.
func (c *Context) ClearTodos() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.todos = nil
}

// Todos returns a copy of the checklist in insertion order.
func (c *Context) Todos() []TodoItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TodoItem, len(c.todos))
	copy(out, c.todos)
	return out
}

// TodoSummary renders the checklist for transient history injection.
// Returns "" when the list is empty.
func (c *Context) TodoSummary() string {
	items := c.Todos()
	if len(items) == 0 {
		return ""
	}
	marks := map[string]string{
		TodoPending:    "[ ]",
		TodoInProgress: "[~]",
		TodoDone:       "[x]",
	}
	var b strings.Builder
	b.WriteString("Current task list:\n")
	for _, item := range items {
		fmt.Fprintf(&b, "%s #%d %s\n", marks[item.Status], item.ID, item.Text)
	}
	return strings.TrimSpace(b.String())
}

// RecordFileHash remembers a content hash for out-of-band edit detection.
func (c *Context) RecordFileHash(path, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fileHashes[path] = hash
}

// FileChanged reports whether the stored hash differs from hash. An
// unrecorded path counts as unchanged.
func (c *Context) FileChanged(path, hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.fileHashes[path]
	return ok && prev != hash
}

// RegisterSkill adds or replaces a named skill template.
func (c *Context) RegisterSkill(s Skill) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skills[s.Name] = s
}

// Skill returns a registered skill by name.
func (c *Context) Skill(name string) (Skill, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.skills[name]
	return s, ok
}

// SkillNames lists registered skills sorted by name.
func (c *Context) SkillNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.skills))
	for name := range c.skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
