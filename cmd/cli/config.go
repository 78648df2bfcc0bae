package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Terryzhang-jp/curise-agent/kernel/tool"
)

// defaultSystemPrompt drives the general-purpose assistant when the
// config file does not override it.
const defaultSystemPrompt = `You are a helpful AI assistant that uses tools to complete tasks.

How to work (ReAct: Reasoning + Acting):
1. Analyze the user's request.
2. Use the think tool to plan your approach, analyze information, or reflect on results.
3. For complex multi-step tasks (3+ steps), use todo_write to build a task list and track progress.
4. Use tools to gather information or perform actions.
5. After finishing a subtask, update its status with todo_write and move on.
6. When you have enough information, give a final text answer.

Important rules:
- Complex tasks must start with a todo_write task list so goals are not forgotten.
- After a tool result, use think to check whether the result makes sense.
- If a tool returns an error, use think to analyze the cause before trying another approach.
- Never fabricate information; say so when you are unsure.
- Use web_fetch to retrieve web pages or call public APIs.`

// PermissionRule is one glob-pattern policy entry from the config file.
type PermissionRule struct {
	Pattern string `yaml:"pattern"`
	Action  string `yaml:"action"`
}

// Config is the CLI configuration, loaded from YAML with environment
// variables supplying the secrets.
type Config struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`

	DBPath       string   `yaml:"db_path"`
	SystemPrompt string   `yaml:"system_prompt"`
	SkillDirs    []string `yaml:"skill_dirs"`

	MaxTurns           int `yaml:"max_turns"`
	WarnTurnsRemaining int `yaml:"warn_turns_remaining"`
	LoopWindow         int `yaml:"loop_window"`
	LoopThreshold      int `yaml:"loop_threshold"`
	ParallelWorkers    int `yaml:"parallel_tool_workers"`
	ThinkingBudget     int `yaml:"thinking_budget"`
	MaxRetries         int `yaml:"max_retries"`
	RetryDelayMS       int `yaml:"retry_delay_ms"`

	Permissions []PermissionRule `yaml:"permissions"`
}

var defaultKeyEnvs = map[string]string{
	"gemini":    "GEMINI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"deepseek":  "DEEPSEEK_API_KEY",
}

func defaultConfig() Config {
	return Config{
		Provider:       "gemini",
		Model:          "gemini-2.5-flash",
		DBPath:         filepath.Join(".", "agent_sessions.db"),
		SystemPrompt:   defaultSystemPrompt,
		SkillDirs:      []string{"./skills"},
		MaxRetries:     2,
		RetryDelayMS:   1000,
		ThinkingBudget: 4096,
	}
}

// loadConfig reads path when it exists and overlays it on the defaults.
// An explicitly passed path that does not exist is an error; the
// default path is allowed to be absent.
func loadConfig(path string, explicit bool) (Config, error) {
	cfg := defaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	return cfg, nil
}

// apiKey resolves the provider credential from the environment.
func (c Config) apiKey() (string, error) {
	envName := strings.TrimSpace(c.APIKeyEnv)
	if envName == "" {
		envName = defaultKeyEnvs[strings.ToLower(strings.TrimSpace(c.Provider))]
	}
	if envName == "" {
		return "", fmt.Errorf("no api_key_env configured for provider %q", c.Provider)
	}
	key := strings.TrimSpace(os.Getenv(envName))
	if key == "" {
		return "", fmt.Errorf("environment variable %s is not set", envName)
	}
	return key, nil
}

func (c Config) retryDelay() time.Duration {
	if c.RetryDelayMS <= 0 {
		return time.Second
	}
	return time.Duration(c.RetryDelayMS) * time.Millisecond
}

// permissionRules converts the config entries to registry rules.
func (c Config) permissionRules() ([]tool.Rule, error) {
	rules := make([]tool.Rule, 0, len(c.Permissions))
	for _, entry := range c.Permissions {
		action := tool.Action(strings.ToLower(strings.TrimSpace(entry.Action)))
		switch action {
		case tool.ActionAllow, tool.ActionAsk, tool.ActionDeny:
		default:
			return nil, fmt.Errorf("invalid permission action %q for pattern %q", entry.Action, entry.Pattern)
		}
		if strings.TrimSpace(entry.Pattern) == "" {
			return nil, fmt.Errorf("permission rule with empty pattern")
		}
		rules = append(rules, tool.Rule{Pattern: entry.Pattern, Action: action})
	}
	return rules, nil
}
