package research

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/mikeboe/deep-research/pkg/llm"
	"github.com/mikeboe/deep-research/pkg/metrics"
)

// Options bound one research run.
type Options struct {
	MaxIterations       int
	QueriesPerIteration int
	SearchConcurrency   int
}

func (o Options) withDefaults() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.QueriesPerIteration <= 0 {
		o.QueriesPerIteration = DefaultQueriesPerIteration
	}
	if o.SearchConcurrency <= 0 {
		o.SearchConcurrency = o.QueriesPerIteration
	}
	return o
}

// Engine drives plan, search and aggregate rounds, then hands the
// accumulated knowledge to the synthesizer. It holds no per-run state and
// is safe for concurrent Run calls as long as OnStateUpdate is.
type Engine struct {
	Orchestrator  *Orchestrator
	Search        *SearchExecutor
	Aggregator    *Aggregator
	Synthesizer   *Synthesizer
	MaxIterations int
	Logger        *slog.Logger
	OnStateUpdate func(state State)
}

func NewEngine(completer llm.Completer, researchTools []llm.Tool, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		Orchestrator:  NewOrchestrator(completer, opts.MaxIterations, opts.QueriesPerIteration),
		Search:        NewSearchExecutor(completer, researchTools, opts.SearchConcurrency),
		Aggregator:    NewAggregator(completer),
		Synthesizer:   NewSynthesizer(completer),
		MaxIterations: opts.MaxIterations,
		Logger:        slog.Default(),
	}
}

// SetLogger points the engine and its components at one logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	e.Logger = logger
	e.Orchestrator.Logger = logger
	e.Search.Logger = logger
	e.Aggregator.Logger = logger
	e.Synthesizer.Logger = logger
}

// WithLogger returns a copy of the engine whose components log to logger.
// The copy shares the completer and tools.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	c := *e
	orchestrator, search, aggregator, synthesizer := *e.Orchestrator, *e.Search, *e.Aggregator, *e.Synthesizer
	c.Orchestrator, c.Search, c.Aggregator, c.Synthesizer = &orchestrator, &search, &aggregator, &synthesizer
	c.SetLogger(logger)
	return &c
}

// Report is the outcome of the research loop. Answer is lazy and
// forward-only; ranging over it again issues a new synthesis call.
type Report struct {
	State      State
	Iterations int
	Answer     iter.Seq2[llm.Chunk, error]
}

// Text drains the answer stream, keeping only non-reasoning chunks.
func (r *Report) Text() (string, error) {
	var sb strings.Builder
	for chunk, err := range r.Answer {
		if err != nil {
			return sb.String(), err
		}
		if chunk.Kind == llm.ChunkText {
			sb.WriteString(chunk.Text)
		}
	}
	return sb.String(), nil
}

// Run executes the research loop for req. Planning errors abort the run;
// search and aggregation failures only degrade it. ctx is checked between
// iterations.
func (e *Engine) Run(ctx context.Context, req Request) (*Report, error) {
	if strings.TrimSpace(req.Question) == "" {
		metrics.RunsTotal.WithLabelValues("rejected").Inc()
		return nil, ErrNoQuestion
	}

	state := State{
		Question:      req.Question,
		MaxIterations: e.MaxIterations,
		Phase:         PhasePlanning,
		Knowledge:     []AggregatedResult{},
		Sources:       []Source{},
	}
	e.Logger.Info("Starting deep research", "question", req.Question, "max_iterations", e.MaxIterations)

	rounds := 0
	for iteration := 0; iteration < e.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			metrics.RunsTotal.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("research stopped before iteration %d: %w", iteration+1, err)
		}

		state.Iteration = iteration
		state.Phase = PhasePlanning
		e.emit(state)
		e.Logger.Info("Starting iteration", "iteration", iteration+1, "max", e.MaxIterations)

		plan, err := e.Orchestrator.Plan(ctx, req.Question, state.Knowledge, iteration)
		if err != nil {
			e.recordFailure(err)
			return nil, fmt.Errorf("planning failed: %w", err)
		}
		rounds++
		state.Plan = &plan

		if plan.IsComplete && iteration > 0 {
			e.Logger.Info("Orchestrator determined research is complete", "rationale", plan.CompletionRationale)
			break
		}

		if len(plan.Queries) > 0 {
			state.Phase = PhaseSearching
			e.emit(state)
			results := e.Search.Execute(ctx, plan.Queries)

			state.Phase = PhaseAggregating
			e.emit(state)
			aggregated := e.Aggregator.Aggregate(ctx, req.Question, results)
			state.Knowledge = append(state.Knowledge, aggregated)
			state.addSources(results, aggregated)
		}

		if iteration == e.MaxIterations-1 {
			e.Logger.Info("Reached max iterations, synthesizing with available info")
			break
		}
	}

	state.Phase = PhaseSynthesizing
	e.emit(state)
	e.Logger.Info("Synthesizing final report", "iterations", rounds, "sources", len(state.Sources))
	metrics.IterationsPerRun.Observe(float64(rounds))

	final := state.Snapshot()
	answer := e.Synthesizer.Synthesize(ctx, req.Question, final.Knowledge, req.LanguagePreference)

	return &Report{
		State:      final,
		Iterations: rounds,
		Answer:     e.track(final, answer),
	}, nil
}

func (e *Engine) emit(state State) {
	if e.OnStateUpdate != nil {
		e.OnStateUpdate(state.Snapshot())
	}
}

func (e *Engine) recordFailure(err error) {
	if llm.IsUpstreamAccess(err) {
		metrics.RunsTotal.WithLabelValues("upstream_access").Inc()
		return
	}
	metrics.RunsTotal.WithLabelValues("failed").Inc()
}

// track forwards the answer stream and records the terminal phase once it
// has been fully consumed.
func (e *Engine) track(state State, answer iter.Seq2[llm.Chunk, error]) iter.Seq2[llm.Chunk, error] {
	return func(yield func(llm.Chunk, error) bool) {
		for chunk, err := range answer {
			if err != nil {
				e.recordFailure(err)
				yield(llm.Chunk{}, fmt.Errorf("synthesis failed: %w", err))
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
		metrics.RunsTotal.WithLabelValues("completed").Inc()
		state.Phase = PhaseDone
		e.emit(state)
	}
}

// IsRequestError reports whether err was caused by the request itself.
func IsRequestError(err error) bool {
	return errors.Is(err, ErrNoQuestion)
}
