package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
)

const historyFile = ".curise_history"

// chatLoop runs the interactive prompt until /exit or EOF. Meta
// commands are handled locally; everything else, including /name skill
// invocations, goes through the engine.
func chatLoop(ctx context.Context, a *app) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	histPath := filepath.Join(os.TempDir(), historyFile)
	if f, err := os.Open(histPath); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = line.WriteHistory(f)
			f.Close()
		}
	}()

	a.render.info("Session %s (%s, %s). Type /help for commands.",
		a.engine.SessionID(), a.cfg.Provider, a.cfg.Model)

	for {
		input, err := line.Prompt("> ")
		switch {
		case errors.Is(err, liner.ErrPromptAborted):
			continue
		case errors.Is(err, io.EOF):
			fmt.Println()
			return nil
		case err != nil:
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		done, handled, err := metaCommand(ctx, a, input)
		if err != nil {
			a.render.info("error: %v", err)
			continue
		}
		if done {
			return nil
		}
		if handled {
			continue
		}

		if err := a.run(ctx, input); err != nil {
			a.render.info("error: %v", err)
		}
	}
}

// metaCommand handles REPL-level commands. The first return value
// requests loop exit; the second says the input was consumed.
func metaCommand(ctx context.Context, a *app, input string) (done, handled bool, err error) {
	cmd, _, _ := strings.Cut(input, " ")
	switch cmd {
	case "/exit", "/quit":
		return true, true, nil
	case "/help":
		a.render.info("Commands: /new, /sessions, /compact, /exit. Anything else is sent to the agent.")
		return false, true, nil
	case "/new":
		sess, err := a.engine.NewSession(ctx, "CLI session")
		if err != nil {
			return false, true, err
		}
		a.render.info("Started session %s.", sess.ID)
		return false, true, nil
	case "/sessions":
		sessions, err := a.store.ListSessions(ctx)
		if err != nil {
			return false, true, err
		}
		if len(sessions) == 0 {
			a.render.info("No sessions yet.")
			return false, true, nil
		}
		for _, s := range sessions {
			marker := "  "
			if s.ID == a.engine.SessionID() {
				marker = "* "
			}
			a.render.info("%s%s", marker, sessionSummary(s))
		}
		return false, true, nil
	case "/compact":
		out, err := a.engine.Compact(ctx)
		if err != nil {
			return false, true, err
		}
		a.render.info("%s", out)
		return false, true, nil
	}
	return false, false, nil
}
