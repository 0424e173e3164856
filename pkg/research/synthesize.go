package research

import (
	"context"
	"iter"
	"log/slog"

	"github.com/mikeboe/deep-research/pkg/llm"
)

// Synthesizer streams the final report from the synthesis model.
type Synthesizer struct {
	LLM    llm.Completer
	Logger *slog.Logger
}

func NewSynthesizer(completer llm.Completer) *Synthesizer {
	return &Synthesizer{LLM: completer, Logger: slog.Default()}
}

// Synthesize returns the report as a lazy stream. Nothing is requested until
// the caller starts ranging over it.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, knowledge []AggregatedResult, languagePreference string) iter.Seq2[llm.Chunk, error] {
	return s.LLM.StreamText(ctx, llm.TextRequest{
		Role:   llm.RoleSynthesis,
		System: synthesisPrompt(question, knowledge, languagePreference),
		Prompt: synthesisUserPrompt,
	})
}
