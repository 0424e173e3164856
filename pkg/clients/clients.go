package clients

import (
	"context"
	"fmt"

	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/llm"
)

// New returns the Completer for the configured provider.
func New(ctx context.Context, cfg *config.Config) (llm.Completer, error) {
	models := llm.Models{
		Fast:      cfg.FastModel,
		Reasoning: cfg.ReasoningModel,
		Synthesis: cfg.SynthesisModel,
	}

	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGemini(ctx, cfg.GoogleApiKey, models, cfg.MaxToolSteps)
	case config.ProviderAnthropic:
		return NewAnthropic(cfg.AnthropicApiKey, models, cfg.MaxToolSteps)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}
