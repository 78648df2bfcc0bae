package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Terryzhang-jp/curise-agent/kernel/engine"
	"github.com/Terryzhang-jp/curise-agent/kernel/llm"
	"github.com/Terryzhang-jp/curise-agent/kernel/llm/providers"
	"github.com/Terryzhang-jp/curise-agent/kernel/session"
	"github.com/Terryzhang-jp/curise-agent/kernel/session/sqlstore"
	"github.com/Terryzhang-jp/curise-agent/kernel/stream"
	"github.com/Terryzhang-jp/curise-agent/kernel/tool"
	"github.com/Terryzhang-jp/curise-agent/kernel/tool/builtin"
	"github.com/Terryzhang-jp/curise-agent/kernel/toolctx"
)

// app bundles everything one CLI invocation needs.
type app struct {
	cfg        Config
	store      *sqlstore.Store
	engine     *engine.Engine
	queue      *stream.Queue
	render     *renderer
	renderDone <-chan struct{}
	log        *slog.Logger
}

func openStore(cfg Config) (*sqlstore.Store, error) {
	store, err := sqlstore.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

func newSkillContext(cfg Config, logger *slog.Logger) *toolctx.Context {
	tctx := toolctx.New()
	for _, warn := range tctx.DiscoverSkills(cfg.SkillDirs) {
		logger.Warn("skill discovery", "error", warn)
	}
	return tctx
}

// newApp opens storage, wires tools, skills and the provider, and
// binds the engine to sessionID (creating a session when empty).
func newApp(ctx context.Context, cfg Config, sessionID string, logger *slog.Logger) (*app, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	if sessionID == "" {
		sess, err := store.CreateSession(ctx, "CLI session")
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("create session: %w", err)
		}
		sessionID = sess.ID
	} else if _, err := store.GetSession(ctx, sessionID); err != nil {
		store.Close()
		return nil, fmt.Errorf("session %q: %w", sessionID, err)
	}

	tctx := newSkillContext(cfg, logger)
	registry := tool.NewRegistry(tctx)
	if err := builtin.RegisterAll(registry); err != nil {
		store.Close()
		return nil, fmt.Errorf("register builtins: %w", err)
	}
	rules, err := cfg.permissionRules()
	if err != nil {
		store.Close()
		return nil, err
	}
	registry.SetPermissions(rules)
	registry.SetApprover(consoleApprover(os.Stdin, os.Stderr))

	apiKey, err := cfg.apiKey()
	if err != nil {
		store.Close()
		return nil, err
	}
	provider, err := providers.New(ctx, llm.Config{
		Provider:       cfg.Provider,
		Model:          cfg.Model,
		APIKey:         apiKey,
		BaseURL:        cfg.BaseURL,
		ThinkingBudget: cfg.ThinkingBudget,
		MaxRetries:     cfg.MaxRetries,
		RetryDelay:     cfg.retryDelay(),
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	queue := stream.NewQueue()
	eng, err := engine.New(engine.Config{
		Provider:           provider,
		Store:              store,
		Registry:           registry,
		Queue:              queue,
		Logger:             logger,
		SystemPrompt:       cfg.SystemPrompt,
		SessionID:          sessionID,
		Model:              cfg.Model,
		MaxTurns:           cfg.MaxTurns,
		WarnTurnsRemaining: cfg.WarnTurnsRemaining,
		ParallelWorkers:    cfg.ParallelWorkers,
		LoopWindow:         cfg.LoopWindow,
		LoopThreshold:      cfg.LoopThreshold,
		ThinkingBudget:     cfg.ThinkingBudget,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	render := newRenderer(os.Stdout)
	return &app{
		cfg:        cfg,
		store:      store,
		engine:     eng,
		queue:      queue,
		render:     render,
		renderDone: render.consume(context.Background(), queue),
		log:        logger,
	}, nil
}

// Close shuts the stream down and releases storage.
func (a *app) Close() error {
	a.queue.Close()
	<-a.renderDone
	return a.store.Close()
}

// run sends one user message through the engine while the renderer
// consumes the stream, and reports HITL pauses as plain text.
func (a *app) run(ctx context.Context, message string) error {
	out, err := a.engine.Run(ctx, message)
	a.render.waitIdle(a.queue)
	if err != nil {
		return err
	}
	if reason, paused := strings.CutPrefix(out, engine.PauseSentinel); paused {
		a.render.pause(reason)
	}
	return nil
}

// consoleApprover asks y/N on the terminal for "ask"-gated tools.
func consoleApprover(in *os.File, out *os.File) tool.Approver {
	reader := bufio.NewReader(in)
	return func(name string, args map[string]any) bool {
		fmt.Fprintf(out, "Allow tool %q with args %v? [y/N] ", name, args)
		line, err := reader.ReadString('\n')
		if err != nil {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	}
}

// sessionSummary renders one line for the sessions listing.
func sessionSummary(s *session.Session) string {
	title := s.Title
	if title == "" {
		title = "(untitled)"
	}
	return fmt.Sprintf("%s  %s  tokens=%d/%d  updated=%s",
		s.ID, title, s.PromptTokens, s.CompletionTokens, s.UpdatedAt.Format("2006-01-02 15:04"))
}
