// Package engine implements the ReAct loop: load history, call the
// provider, branch on tool-calls versus final answer, execute tools
// (parallel when multiple), detect repetition, honor human-in-the-loop
// pauses and persist every turn through the storage contract.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Terryzhang-jp/curise-agent/kernel/llm"
	"github.com/Terryzhang-jp/curise-agent/kernel/session"
	"github.com/Terryzhang-jp/curise-agent/kernel/stream"
	"github.com/Terryzhang-jp/curise-agent/kernel/tool"
	"github.com/Terryzhang-jp/curise-agent/kernel/toolctx"
)

// PauseSentinel prefixes the Run result when a tool requested a
// human-in-the-loop pause; the pause reason follows the sentinel.
const PauseSentinel = "__HITL_PAUSE__"

const (
	thinkAck           = "[Thought recorded]"
	noAnswerText       = "(the agent produced no reply)"
	defaultMaxTurns    = 30
	defaultWarnTurns   = 3
	defaultWorkers     = 4
	defaultLoopWindow  = 20
	defaultLoopLimit   = 3
	defaultThinkBudget = 4096
)

// Config wires an Engine. Provider, Store, Registry and SessionID are
// required; everything else has defaults.
type Config struct {
	Provider     llm.Provider
	Store        session.Store
	Registry     *tool.Registry
	Queue        *stream.Queue
	OnStep       func(Step, int)
	Logger       *slog.Logger
	SystemPrompt string
	SessionID    string
	Model        string

	MaxTurns           int
	WarnTurnsRemaining int
	ParallelWorkers    int
	LoopWindow         int
	LoopThreshold      int
	ThinkingBudget     int
}

func (c Config) withDefaults() Config {
	if c.MaxTurns == 0 {
		c.MaxTurns = defaultMaxTurns
	}
	if c.WarnTurnsRemaining == 0 {
		c.WarnTurnsRemaining = defaultWarnTurns
	}
	if c.ParallelWorkers == 0 {
		c.ParallelWorkers = defaultWorkers
	}
	if c.LoopWindow == 0 {
		c.LoopWindow = defaultLoopWindow
	}
	if c.LoopThreshold == 0 {
		c.LoopThreshold = defaultLoopLimit
	}
	if c.ThinkingBudget == 0 {
		c.ThinkingBudget = defaultThinkBudget
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Engine runs the turn loop for one session. An Engine is not safe for
// concurrent Run calls; callers serialize runs per session.
type Engine struct {
	cfg       Config
	provider  llm.Provider
	store     session.Store
	registry  *tool.Registry
	tctx      *toolctx.Context
	queue     *stream.Queue
	log       *slog.Logger
	sessionID string

	recentCalls []string

	stepMu  sync.Mutex
	stepLog []Step
}

// New validates the wiring, injects the skill summary into the system
// prompt and configures the provider with the registry's declarations.
func New(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	if cfg.Provider == nil {
		return nil, fmt.Errorf("engine: provider is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("engine: registry is required")
	}
	if strings.TrimSpace(cfg.SessionID) == "" {
		return nil, fmt.Errorf("engine: session id is required")
	}

	tctx := cfg.Registry.Context()
	if tctx == nil {
		tctx = toolctx.New()
	}
	systemPrompt := cfg.SystemPrompt
	if summary := tctx.SkillListSummary(); summary != "" {
		systemPrompt += "\n\n" + summary
	}
	if err := cfg.Provider.Configure(systemPrompt, cfg.Registry.Declarations(), cfg.ThinkingBudget); err != nil {
		return nil, fmt.Errorf("engine: configure provider: %w", err)
	}

	return &Engine{
		cfg:       cfg,
		provider:  cfg.Provider,
		store:     cfg.Store,
		registry:  cfg.Registry,
		tctx:      tctx,
		queue:     cfg.Queue,
		log:       cfg.Logger,
		sessionID: cfg.SessionID,
	}, nil
}

// Context returns the tool context shared with the registry.
func (e *Engine) Context() *toolctx.Context {
	return e.tctx
}

// SessionID returns the session this engine is bound to.
func (e *Engine) SessionID() string {
	return e.sessionID
}

// SwitchSession points the engine at another session. The repetition
// window resets; call signatures belong to one conversation.
func (e *Engine) SwitchSession(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("engine: session id is required")
	}
	e.sessionID = id
	e.recentCalls = nil
	return nil
}

// NewSession creates a session in the store and switches to it.
func (e *Engine) NewSession(ctx context.Context, title string) (*session.Session, error) {
	sess, err := e.store.CreateSession(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("engine: create session: %w", err)
	}
	e.sessionID = sess.ID
	e.recentCalls = nil
	return sess, nil
}
