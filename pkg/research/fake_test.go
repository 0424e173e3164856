package research

import (
	"context"
	"encoding/json"
	"iter"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/llm"
	"github.com/mikeboe/deep-research/pkg/research/tools"
)

// fakeLLM is a scripted llm.Completer. Structured outputs are decoded with
// llm.DecodeObject so validation behaves as it does for real providers.
type fakeLLM struct {
	mu sync.Mutex

	text      func(req llm.TextRequest) (*llm.TextResult, error)
	object    func(req llm.ObjectRequest) (string, error)
	chunks    []llm.Chunk
	streamErr error

	textReqs   []llm.TextRequest
	objectReqs []llm.ObjectRequest
	streamReqs []llm.TextRequest
}

func (f *fakeLLM) GenerateText(ctx context.Context, req llm.TextRequest) (*llm.TextResult, error) {
	f.mu.Lock()
	f.textReqs = append(f.textReqs, req)
	fn := f.text
	f.mu.Unlock()

	if fn == nil {
		return &llm.TextResult{}, nil
	}
	return fn(req)
}

func (f *fakeLLM) GenerateObject(ctx context.Context, req llm.ObjectRequest, out any) error {
	f.mu.Lock()
	f.objectReqs = append(f.objectReqs, req)
	fn := f.object
	f.mu.Unlock()

	raw, err := fn(req)
	if err != nil {
		return err
	}
	return llm.DecodeObject(raw, out)
}

func (f *fakeLLM) StreamText(ctx context.Context, req llm.TextRequest) iter.Seq2[llm.Chunk, error] {
	return func(yield func(llm.Chunk, error) bool) {
		f.mu.Lock()
		f.streamReqs = append(f.streamReqs, req)
		f.mu.Unlock()

		for _, c := range f.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if f.streamErr != nil {
			yield(llm.Chunk{}, f.streamErr)
		}
	}
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.textReqs) + len(f.objectReqs) + len(f.streamReqs)
}

func (f *fakeLLM) requests(name string) []llm.ObjectRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []llm.ObjectRequest
	for _, r := range f.objectReqs {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

// toolStep builds a step in which one tool call returned out.
func toolStep(t *testing.T, callID, name string, out any) llm.Step {
	t.Helper()
	return llm.Step{
		ToolCalls:   []llm.ToolCall{{ID: callID, Name: name}},
		ToolResults: []llm.ToolResult{{CallID: callID, Name: name, Output: json.RawMessage(mustJSON(t, out))}},
	}
}

func searchOutput(results ...tools.Result) tools.Output {
	return tools.Output{Version: tools.OutputVersion, Answer: tools.Answer{Results: results}}
}

func webResult(url, title string, texts ...string) tools.Result {
	r := tools.Result{Source: tools.Source{URL: url, Title: title}}
	for _, text := range texts {
		r.Content = append(r.Content, tools.Content{Text: text})
	}
	return r
}

func planJSON(t *testing.T, complete bool, queries ...string) string {
	t.Helper()
	plan := QueryPlan{
		Reasoning:           "need more data",
		ExpectedInformation: []string{"figures"},
		Queries:             []PlannedQuery{},
		IsComplete:          complete,
	}
	for _, q := range queries {
		plan.Queries = append(plan.Queries, PlannedQuery{Query: q, Purpose: "purpose of " + q})
	}
	return mustJSON(t, plan)
}
