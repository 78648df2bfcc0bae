// Command curise-agent is a terminal front end for the agent engine:
// an interactive chat loop plus session management, context compaction
// and skill inspection.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Terryzhang-jp/curise-agent/internal/envload"
	"github.com/Terryzhang-jp/curise-agent/internal/version"
)

const defaultConfigPath = "curise.yaml"

func main() {
	if err := newRootCmd().ExecuteContext(signalContext()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func signalContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}

type rootFlags struct {
	configPath string
	sessionID  string
	debug      bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "curise-agent",
		Short:         "Tool-using LLM agent with persistent sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if path, err := envload.LoadNearest(); err != nil {
				return err
			} else if path != "" {
				slog.Debug("loaded env file", "path", path)
			}
			level := slog.LevelWarn
			if flags.debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	root.PersistentFlags().StringVarP(&flags.sessionID, "session", "s", "", "Session id to resume (default: new session)")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		newChatCmd(flags),
		newRunCmd(flags),
		newSessionsCmd(flags),
		newCompactCmd(flags),
		newSkillsCmd(flags),
		newVersionCmd(),
	)
	return root
}

func (f *rootFlags) load(cmd *cobra.Command) (Config, error) {
	explicit := cmd.Flags().Changed("config") || cmd.InheritedFlags().Changed("config")
	return loadConfig(f.configPath, explicit)
}

func newChatCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, flags.sessionID, slog.Default())
			if err != nil {
				return err
			}
			defer a.Close()
			return chatLoop(cmd.Context(), a)
		},
	}
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run [message]",
		Short: "Send one message and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, flags.sessionID, slog.Default())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.run(cmd.Context(), strings.Join(args, " "))
		},
	}
}

func newSessionsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			sessions, err := store.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions yet.")
				return nil
			}
			for _, s := range sessions {
				fmt.Println(sessionSummary(s))
			}
			return nil
		},
	}
}

func newCompactCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Summarize a session so later turns reload less history",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.sessionID == "" {
				return fmt.Errorf("compact requires --session")
			}
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, flags.sessionID, slog.Default())
			if err != nil {
				return err
			}
			defer a.Close()
			out, err := a.engine.Compact(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
}

func newSkillsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "skills",
		Short: "List discovered skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			tctx := newSkillContext(cfg, slog.Default())
			names := tctx.SkillNames()
			if len(names) == 0 {
				fmt.Println("No skills found. Add SKILL.md files under:", strings.Join(cfg.SkillDirs, ", "))
				return nil
			}
			for _, name := range names {
				s, _ := tctx.Skill(name)
				if s.Description != "" {
					fmt.Printf("/%s - %s (%s)\n", s.Name, s.Description, s.Path)
				} else {
					fmt.Printf("/%s (%s)\n", s.Name, s.Path)
				}
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("curise-agent", version.String())
		},
	}
}
