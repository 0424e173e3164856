package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mikeboe/deep-research/pkg/llm"
	"github.com/mikeboe/deep-research/pkg/research/tools"
)

func TestExtractUserQuery(t *testing.T) {
	tests := []struct {
		name     string
		messages []Message
		want     string
	}{
		{"No messages", nil, ""},
		{"No user message", []Message{{Role: "assistant", Parts: []Part{{Type: "text", Text: "hi"}}}}, ""},
		{
			"Last user message wins",
			[]Message{
				{Role: "user", Parts: []Part{{Type: "text", Text: "first"}}},
				{Role: "assistant", Parts: []Part{{Type: "text", Text: "reply"}}},
				{Role: "user", Parts: []Part{{Type: "text", Text: "second"}}},
			},
			"second",
		},
		{
			"Text parts joined with a space",
			[]Message{{Role: "user", Parts: []Part{
				{Type: "text", Text: "What is"},
				{Type: "file"},
				{Type: "text", Text: "inflation?"},
			}}},
			"What is inflation?",
		},
		{"User message without text", []Message{{Role: "user", Parts: []Part{{Type: "file"}}}}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractUserQuery(tt.messages))
		})
	}
}

func TestNewRequest(t *testing.T) {
	_, err := NewRequest([]Message{{Role: "user", Parts: []Part{{Type: "text", Text: "   "}}}}, "")
	assert.ErrorIs(t, err, ErrNoQuestion)

	req, err := NewRequest([]Message{{Role: "user", Parts: []Part{{Type: "text", Text: "Why?"}}}}, "de")
	require.NoError(t, err)
	assert.Equal(t, Request{Question: "Why?", LanguagePreference: "de"}, req)
}

func TestOrchestratorEnforcesQueryCap(t *testing.T) {
	f := &fakeLLM{object: func(req llm.ObjectRequest) (string, error) {
		return planJSON(t, false, "a", "b", "c", "d", "e"), nil
	}}
	o := NewOrchestrator(f, 5, 4)

	_, err := o.Plan(context.Background(), "question", nil, 0)
	require.Error(t, err)

	queries := f.objectReqs[0].Schema.Properties["queries"]
	require.NotNil(t, queries.MaxItems)
	assert.Equal(t, int64(4), *queries.MaxItems)

	f.object = func(req llm.ObjectRequest) (string, error) {
		return planJSON(t, false, "a", "b", "c", "d"), nil
	}
	plan, err := o.Plan(context.Background(), "question", nil, 0)
	require.NoError(t, err)
	assert.Len(t, plan.Queries, 4)
}

func TestOrchestratorPrompt(t *testing.T) {
	f := &fakeLLM{object: func(req llm.ObjectRequest) (string, error) {
		return planJSON(t, false), nil
	}}
	o := NewOrchestrator(f, 5, 4)

	_, err := o.Plan(context.Background(), "Why is the sky blue?", nil, 0)
	require.NoError(t, err)
	first := f.objectReqs[0]
	assert.Equal(t, llm.RoleReasoning, first.Role)
	assert.Contains(t, first.System, `USER'S QUESTION: "Why is the sky blue?"`)
	assert.Contains(t, first.System, "CURRENT ITERATION: 1 of 5")
	assert.Contains(t, first.System, "No previous knowledge gathered yet.")
	assert.Contains(t, first.System, "Generate 4 diverse search queries")
	assert.Contains(t, first.System, "If this is iteration 5, you MUST set isComplete to true")
	assert.Equal(t, "Generate a research plan for iteration 1.", first.Prompt)

	knowledge := []AggregatedResult{
		{
			KeyFindings: []Finding{{Fact: "Rayleigh scattering", RelevanceScore: 9}, {Fact: "Shorter wavelengths scatter more", RelevanceScore: 8}},
			Summary:     "Scattering explains it",
			Gaps:        []string{"sunsets", "ocean color"},
		},
		{Summary: "Second pass", KeyFindings: []Finding{}, Gaps: []string{}},
	}
	_, err = o.Plan(context.Background(), "Why is the sky blue?", knowledge, 2)
	require.NoError(t, err)
	third := f.objectReqs[1]
	assert.Contains(t, third.System, "CURRENT ITERATION: 3 of 5")
	assert.Contains(t, third.System, "\n--- Iteration 1 Findings ---\nScattering explains it\nKey facts: Rayleigh scattering; Shorter wavelengths scatter more\nRemaining gaps: sunsets, ocean color\n\n--- Iteration 2 Findings ---\nSecond pass\nKey facts: \nRemaining gaps: ")
	assert.NotContains(t, third.System, "No previous knowledge")
	assert.Equal(t, "Generate a research plan for iteration 3.", third.Prompt)
}

func promptQuery(prompt string) string {
	rest, _ := strings.CutPrefix(prompt, "Search the web for: ")
	query, _, _ := strings.Cut(rest, "\n")
	return query
}

func TestSearchExecutorPreservesOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	betaDone := make(chan struct{})
	var mu sync.Mutex
	var finished []string

	f := &fakeLLM{text: func(req llm.TextRequest) (*llm.TextResult, error) {
		query := promptQuery(req.Prompt)
		if query != "beta" {
			<-betaDone
		}
		mu.Lock()
		finished = append(finished, query)
		mu.Unlock()
		if query == "beta" {
			close(betaDone)
		}
		return &llm.TextResult{Text: "answer for " + query}, nil
	}}
	s := NewSearchExecutor(f, nil, 3)

	results := s.Execute(context.Background(), []PlannedQuery{{Query: "alpha"}, {Query: "beta"}, {Query: "gamma"}})

	require.Len(t, results, 3)
	assert.Equal(t, "beta", finished[0])
	for i, q := range []string{"alpha", "beta", "gamma"} {
		assert.Equal(t, q, results[i].Query)
		assert.Equal(t, "answer for "+q, results[i].Text)
	}
}

func TestSearchExecutorDegradesPerQuery(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := &fakeLLM{text: func(req llm.TextRequest) (*llm.TextResult, error) {
		query := promptQuery(req.Prompt)
		if query == "beta" {
			return nil, errors.New("tool exploded")
		}
		return &llm.TextResult{Steps: []llm.Step{
			toolStep(t, "c-"+query, tools.WebSearchTool, searchOutput(webResult("https://example.com/"+query, query, "content about "+query))),
		}}, nil
	}}
	s := NewSearchExecutor(f, nil, 4)

	results := s.Execute(context.Background(), []PlannedQuery{{Query: "alpha"}, {Query: "beta"}, {Query: "gamma"}})

	require.Len(t, results, 3)
	assert.Equal(t, "[https://example.com/alpha]\ncontent about alpha", results[0].Text)
	assert.Equal(t, "Search failed for: beta", results[1].Text)
	assert.Equal(t, "[https://example.com/gamma]\ncontent about gamma", results[2].Text)

	failed := 0
	for _, r := range results {
		if strings.HasPrefix(r.Text, "Search failed for:") {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
}

func TestSearchExecutorFormatsToolResults(t *testing.T) {
	steps := []llm.Step{
		toolStep(t, "c1", tools.WebSearchTool, searchOutput(
			webResult("https://a.com", "A", "  first", "second  "),
			webResult("", "Title only", "x"),
			webResult("", "", "y"),
			webResult("https://empty.com", "Empty"),
		)),
		{
			ToolCalls:   []llm.ToolCall{{ID: "c2", Name: tools.WebExtractTool}},
			ToolResults: []llm.ToolResult{{CallID: "c2", Name: tools.WebExtractTool, Err: "boom"}},
		},
		toolStep(t, "c3", "other", map[string]any{"items": []int{1, 2}}),
		{ToolCalls: []llm.ToolCall{{ID: "c4", Name: tools.WebSearchTool}}},
	}
	f := &fakeLLM{text: func(req llm.TextRequest) (*llm.TextResult, error) {
		return &llm.TextResult{Text: "model prose", Steps: steps}, nil
	}}
	searchTools := (&tools.Toolset{Parallel: tools.NewParallelClient("", "k", 0, 0)}).Tools()
	s := NewSearchExecutor(f, searchTools, 1)

	results := s.Execute(context.Background(), []PlannedQuery{{Query: "q", Purpose: "p"}})

	require.Len(t, results, 1)
	assert.Equal(t, "[https://a.com]\nfirst\nsecond\n\n---\n\n[Title only]\nx\n\n---\n\n[Unknown source]\ny", results[0].Text)
	assert.Equal(t, []Source{{URL: "https://a.com", Title: "A"}}, results[0].Sources)

	req := f.textReqs[0]
	assert.Equal(t, llm.RoleFast, req.Role)
	assert.Equal(t, "You are a research assistant. Search the web and extract relevant information for the query. Be thorough and cite sources.", req.System)
	assert.Equal(t, "Search the web for: q\n\nObjective: p", req.Prompt)
	assert.Len(t, req.Tools, 2)
}

func TestSearchExecutorFallbacks(t *testing.T) {
	tests := []struct {
		name   string
		result *llm.TextResult
		want   string
	}{
		{"Model text when no tool output", &llm.TextResult{Text: "plain answer"}, "plain answer"},
		{"Placeholder when nothing usable", &llm.TextResult{Steps: []llm.Step{toolStep(t, "c", tools.WebSearchTool, searchOutput())}}, "No results found for: alpha"},
		{"Unknown output version", &llm.TextResult{Steps: []llm.Step{toolStep(t, "c", tools.WebSearchTool, tools.Output{Version: "answer/v0", Answer: tools.Answer{Results: []tools.Result{webResult("https://x", "X", "text")}}})}}, "No results found for: alpha"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeLLM{text: func(req llm.TextRequest) (*llm.TextResult, error) {
				return tt.result, nil
			}}
			results := NewSearchExecutor(f, nil, 1).Execute(context.Background(), []PlannedQuery{{Query: "alpha"}})
			require.Len(t, results, 1)
			assert.Equal(t, tt.want, results[0].Text)
		})
	}
}

func TestAggregatorFallback(t *testing.T) {
	want := AggregatedResult{
		KeyFindings: []Finding{},
		Summary:     "Failed to aggregate results",
		Gaps:        []string{"Aggregation error occurred"},
	}

	tests := []struct {
		name   string
		object func(req llm.ObjectRequest) (string, error)
	}{
		{"Completion error", func(llm.ObjectRequest) (string, error) { return "", errors.New("service unavailable") }},
		{"Malformed output", func(llm.ObjectRequest) (string, error) { return "{not json", nil }},
		{"Relevance out of range", func(llm.ObjectRequest) (string, error) {
			return `{"keyFindings":[{"fact":"x","source":"y","relevanceScore":11}],"summary":"s","gaps":[]}`, nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAggregator(&fakeLLM{object: tt.object})
			assert.Equal(t, want, a.Aggregate(context.Background(), "q", []SearchResult{{Text: "r"}}))
		})
	}
}

func TestAggregatorPrompt(t *testing.T) {
	f := &fakeLLM{object: func(req llm.ObjectRequest) (string, error) {
		return `{"keyFindings":[{"fact":"CPI rose 2.3%","source":"https://bps.go.id","relevanceScore":9}],"summary":"Inflation is moderate"}`, nil
	}}
	a := NewAggregator(f)

	got := a.Aggregate(context.Background(), "Inflation?", []SearchResult{{Text: "first block"}, {Text: "second block"}})

	assert.Equal(t, "Inflation is moderate", got.Summary)
	assert.Equal(t, []string{}, got.Gaps)
	require.Len(t, got.KeyFindings, 1)

	req := f.objectReqs[0]
	assert.Equal(t, llm.RoleFast, req.Role)
	assert.Empty(t, req.System)
	assert.Contains(t, req.Prompt, `ORIGINAL QUESTION: "Inflation?"`)
	assert.Contains(t, req.Prompt, "SEARCH RESULTS:\n\n--- Result 1 ---\nfirst block\n\n--- Result 2 ---\nsecond block\n")
	assert.Contains(t, req.Prompt, "3. Rate relevance from 1-10")
}

func TestSynthesisPromptOrdersFindings(t *testing.T) {
	knowledge := []AggregatedResult{
		{Summary: "one", KeyFindings: []Finding{{Fact: "score three", Source: "s1", RelevanceScore: 3}, {Fact: "first nine", Source: "s2", RelevanceScore: 9}}},
		{Summary: "two", KeyFindings: []Finding{{Fact: "score one", Source: "s3", RelevanceScore: 1}, {Fact: "second nine", Source: "s4", RelevanceScore: 9}}},
	}

	prompt := synthesisPrompt("q", knowledge, "")

	order := []string{
		"- first nine (Source: s2, Relevance: 9/10)",
		"- second nine (Source: s4, Relevance: 9/10)",
		"- score three (Source: s1, Relevance: 3/10)",
		"- score one (Source: s3, Relevance: 1/10)",
	}
	last := -1
	for _, line := range order {
		idx := strings.Index(prompt, line)
		require.NotEqual(t, -1, idx, line)
		assert.Greater(t, idx, last, line)
		last = idx
	}
	assert.Contains(t, prompt, "RESEARCH SUMMARIES:\n1. one\n2. two\n")
	assert.True(t, strings.HasSuffix(prompt, "6. End with a brief conclusion or summary"))

	// the knowledge itself is left in iteration order
	assert.Equal(t, "score three", knowledge[0].KeyFindings[0].Fact)
}

func TestSynthesisLanguageInstruction(t *testing.T) {
	tests := []struct {
		preference string
		want       string
	}{
		{"", ""},
		{"auto", ""},
		{"Indonesian", "\n\nIMPORTANT: Respond in Indonesian language."},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("preference=%q", tt.preference), func(t *testing.T) {
			prompt := synthesisPrompt("q", nil, tt.preference)
			assert.True(t, strings.HasSuffix(prompt, "summary"+tt.want))
		})
	}
}

func TestSynthesizerStreams(t *testing.T) {
	f := &fakeLLM{chunks: []llm.Chunk{
		{Kind: llm.ChunkReasoning, Text: "thinking"},
		{Kind: llm.ChunkText, Text: "## Report"},
	}}
	s := NewSynthesizer(f)

	stream := s.Synthesize(context.Background(), "q", nil, "auto")
	assert.Empty(t, f.streamReqs, "stream must be lazy")

	var got []llm.Chunk
	for chunk, err := range stream {
		require.NoError(t, err)
		got = append(got, chunk)
	}
	assert.Equal(t, f.chunks, got)
	require.Len(t, f.streamReqs, 1)
	assert.Equal(t, llm.RoleSynthesis, f.streamReqs[0].Role)
	assert.Equal(t, "Write the comprehensive research report now.", f.streamReqs[0].Prompt)
}
