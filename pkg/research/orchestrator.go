package research

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mikeboe/deep-research/pkg/llm"
)

// Orchestrator plans each iteration on the reasoning model.
type Orchestrator struct {
	LLM                 llm.Completer
	MaxIterations       int
	QueriesPerIteration int
	Logger              *slog.Logger
}

func NewOrchestrator(completer llm.Completer, maxIterations, queriesPerIteration int) *Orchestrator {
	return &Orchestrator{
		LLM:                 completer,
		MaxIterations:       maxIterations,
		QueriesPerIteration: queriesPerIteration,
		Logger:              slog.Default(),
	}
}

// Plan returns the query plan for the zero-based iteration. Errors are not
// absorbed: without a plan the loop has no next step.
func (o *Orchestrator) Plan(ctx context.Context, question string, knowledge []AggregatedResult, iteration int) (QueryPlan, error) {
	plan := QueryPlan{maxQueries: o.QueriesPerIteration}
	err := o.LLM.GenerateObject(ctx, llm.ObjectRequest{
		Role:   llm.RoleReasoning,
		Name:   "query plan",
		Schema: QueryPlanSchema(o.QueriesPerIteration),
		System: orchestratorPrompt(question, knowledge, iteration, o.MaxIterations, o.QueriesPerIteration),
		Prompt: planUserPrompt(iteration),
	}, &plan)
	if err != nil {
		return QueryPlan{}, fmt.Errorf("query plan for iteration %d: %w", iteration+1, err)
	}

	o.Logger.Info("Query plan generated",
		"iteration", iteration+1,
		"queries", len(plan.Queries),
		"is_complete", plan.IsComplete,
		"reasoning", plan.Reasoning,
	)
	return plan, nil
}
