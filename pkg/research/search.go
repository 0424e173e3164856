package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mikeboe/deep-research/pkg/llm"
	"github.com/mikeboe/deep-research/pkg/metrics"
	"github.com/mikeboe/deep-research/pkg/research/tools"
)

const blockSeparator = "\n\n---\n\n"

// SearchExecutor runs a batch of planned queries concurrently, each as a
// tool-enabled completion on the fast model.
type SearchExecutor struct {
	LLM         llm.Completer
	Tools       []llm.Tool
	Concurrency int
	Logger      *slog.Logger
}

func NewSearchExecutor(completer llm.Completer, tools []llm.Tool, concurrency int) *SearchExecutor {
	return &SearchExecutor{
		LLM:         completer,
		Tools:       tools,
		Concurrency: concurrency,
		Logger:      slog.Default(),
	}
}

// Execute returns one result per query, in input order. A failing query
// yields a placeholder result and never affects its siblings.
func (s *SearchExecutor) Execute(ctx context.Context, queries []PlannedQuery) []SearchResult {
	results := make([]SearchResult, len(queries))

	var g errgroup.Group
	if s.Concurrency > 0 {
		g.SetLimit(s.Concurrency)
	}
	for i, q := range queries {
		g.Go(func() error {
			results[i] = s.search(ctx, q)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (s *SearchExecutor) search(ctx context.Context, q PlannedQuery) (result SearchResult) {
	start := time.Now()
	defer func() {
		metrics.SearchDuration.Observe(time.Since(start).Seconds())
	}()
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error("Search panicked", "query", q.Query, "panic", r)
			metrics.SearchQueriesTotal.WithLabelValues("failed").Inc()
			result = SearchResult{Query: q.Query, Text: "Search failed for: " + q.Query}
		}
	}()

	s.Logger.Info("Searching", "query", q.Query, "purpose", q.Purpose)

	resp, err := s.LLM.GenerateText(ctx, llm.TextRequest{
		Role:   llm.RoleFast,
		System: searchSystemPrompt,
		Prompt: searchPrompt(q),
		Tools:  s.Tools,
	})
	if err != nil {
		s.Logger.Error("Search failed", "query", q.Query, "error", err)
		metrics.SearchQueriesTotal.WithLabelValues("failed").Inc()
		return SearchResult{Query: q.Query, Text: "Search failed for: " + q.Query}
	}

	blocks, sources := s.collect(resp.Steps)

	var text string
	switch {
	case len(blocks) > 0:
		text = strings.Join(blocks, blockSeparator)
		metrics.SearchQueriesTotal.WithLabelValues("ok").Inc()
	case resp.Text != "":
		text = resp.Text
		metrics.SearchQueriesTotal.WithLabelValues("ok").Inc()
	default:
		text = "No results found for: " + q.Query
		metrics.SearchQueriesTotal.WithLabelValues("empty").Inc()
	}

	s.Logger.Info("Completed search",
		"query", q.Query,
		"steps", len(resp.Steps),
		"tool_results", len(blocks),
		"text_length", len(text),
	)

	return SearchResult{Query: q.Query, Text: text, Sources: sources}
}

// collect walks every tool call, pairs it with its result by call ID, and
// turns each non-empty result into a "[source]\ncontent" block.
func (s *SearchExecutor) collect(steps []llm.Step) ([]string, []Source) {
	var blocks []string
	var sources []Source

	for _, step := range steps {
		for _, call := range step.ToolCalls {
			res, ok := step.ResultFor(call.ID)
			if !ok {
				s.Logger.Debug("Tool result missing", "tool", call.Name)
				continue
			}
			if res.Err != "" {
				s.Logger.Warn("Tool returned an error", "tool", call.Name, "error", res.Err)
				continue
			}

			out, ok := tools.ParseOutput(res.Output)
			if !ok || len(out.Answer.Results) == 0 {
				s.Logger.Debug("No results in tool output", "tool", call.Name)
				continue
			}

			for _, r := range out.Answer.Results {
				block, ok := formatBlock(r)
				if !ok {
					s.Logger.Debug("Empty content for result", "source", sourceLabel(r.Source))
					continue
				}
				blocks = append(blocks, block)
				if r.Source.URL != "" {
					sources = append(sources, Source{URL: r.Source.URL, Title: r.Source.Title})
				}
			}
		}
	}

	return blocks, sources
}

func formatBlock(r tools.Result) (string, bool) {
	texts := make([]string, len(r.Content))
	for i, c := range r.Content {
		texts[i] = c.Text
	}
	content := strings.TrimSpace(strings.Join(texts, "\n"))
	if content == "" {
		return "", false
	}
	return fmt.Sprintf("[%s]\n%s", sourceLabel(r.Source), content), true
}

func sourceLabel(src tools.Source) string {
	switch {
	case src.URL != "":
		return src.URL
	case src.Title != "":
		return src.Title
	default:
		return "Unknown source"
	}
}
