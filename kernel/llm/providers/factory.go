package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/Terryzhang-jp/curise-agent/kernel/llm"
)

// Names accepted by New.
const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderDeepSeek  = "deepseek"
)

// Supported returns the provider names New accepts, for help text and
// config validation.
func Supported() []string {
	return []string{ProviderGemini, ProviderAnthropic, ProviderOpenAI, ProviderDeepSeek}
}

// New builds the provider named by cfg.Provider.
func New(ctx context.Context, cfg llm.Config) (llm.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderGemini:
		return NewGemini(ctx, cfg)
	case ProviderAnthropic:
		return NewAnthropic(cfg)
	case ProviderOpenAI:
		return NewOpenAI(cfg)
	case ProviderDeepSeek:
		return NewDeepSeek(cfg)
	case "":
		return nil, fmt.Errorf("providers: provider name is required (one of %s)", strings.Join(Supported(), ", "))
	default:
		return nil, fmt.Errorf("providers: unsupported provider %q (one of %s)", cfg.Provider, strings.Join(Supported(), ", "))
	}
}
