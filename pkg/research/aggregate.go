package research

import (
	"context"
	"log/slog"

	"github.com/mikeboe/deep-research/pkg/llm"
	"github.com/mikeboe/deep-research/pkg/metrics"
)

// Aggregator condenses one iteration's search results into findings, a
// summary and the remaining gaps.
type Aggregator struct {
	LLM    llm.Completer
	Logger *slog.Logger
}

func NewAggregator(completer llm.Completer) *Aggregator {
	return &Aggregator{LLM: completer, Logger: slog.Default()}
}

// AggregationFallback is returned whenever the structured call fails.
func AggregationFallback() AggregatedResult {
	return AggregatedResult{
		KeyFindings: []Finding{},
		Summary:     "Failed to aggregate results",
		Gaps:        []string{"Aggregation error occurred"},
	}
}

// Aggregate never fails; errors degrade to AggregationFallback.
func (a *Aggregator) Aggregate(ctx context.Context, question string, results []SearchResult) AggregatedResult {
	var out AggregatedResult
	err := a.LLM.GenerateObject(ctx, llm.ObjectRequest{
		Role:   llm.RoleFast,
		Name:   "aggregation",
		Schema: AggregatedResultSchema(),
		Prompt: aggregationPrompt(question, results),
	}, &out)
	if err != nil {
		a.Logger.Error("Aggregation failed", "error", err)
		metrics.AggregationFailuresTotal.Inc()
		return AggregationFallback()
	}

	if out.KeyFindings == nil {
		out.KeyFindings = []Finding{}
	}
	if out.Gaps == nil {
		out.Gaps = []string{}
	}

	a.Logger.Info("Aggregated findings", "key_findings", len(out.KeyFindings), "gaps", len(out.Gaps))
	return out
}
