// Package llm defines the completion-service contract the research loop runs
// against. Provider SDKs live behind it in pkg/clients so that the loop can be
// driven by test doubles.
package llm

import (
	"context"
	"encoding/json"
	"iter"

	"google.golang.org/genai"
)

// Role selects one of the configured model slots.
type Role string

const (
	RoleFast      Role = "fast"
	RoleReasoning Role = "reasoning"
	RoleSynthesis Role = "synthesis"
)

// Models maps each Role to a provider model identifier.
type Models struct {
	Fast      string
	Reasoning string
	Synthesis string
}

func (m Models) For(role Role) string {
	switch role {
	case RoleReasoning:
		return m.Reasoning
	case RoleSynthesis:
		return m.Synthesis
	default:
		return m.Fast
	}
}

// Completer is the text-completion service.
type Completer interface {
	// GenerateText runs a completion, executing any tool calls the model
	// makes, and reports every tool round trip as a Step.
	GenerateText(ctx context.Context, req TextRequest) (*TextResult, error)
	// GenerateObject runs a schema-constrained completion and decodes the
	// result into out. If out implements Validator it is validated too.
	GenerateObject(ctx context.Context, req ObjectRequest, out any) error
	// StreamText yields the completion incrementally. The sequence is
	// finite and forward-only; iterating it again restarts the call.
	StreamText(ctx context.Context, req TextRequest) iter.Seq2[Chunk, error]
}

type TextRequest struct {
	Role   Role
	System string
	Prompt string
	Tools  []Tool
}

type TextResult struct {
	Text  string
	Steps []Step
}

// Step is one model turn that requested tools, with the results fed back.
type Step struct {
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

type ToolResult struct {
	CallID string
	Name   string
	Output json.RawMessage
	Err    string
}

// ResultFor returns the tool result paired with callID, if any.
func (s Step) ResultFor(callID string) (ToolResult, bool) {
	for _, r := range s.ToolResults {
		if r.CallID == callID {
			return r, true
		}
	}
	return ToolResult{}, false
}

type ObjectRequest struct {
	Role   Role
	Name   string
	Schema *genai.Schema
	System string
	Prompt string
}

type ChunkKind string

const (
	ChunkText      ChunkKind = "text"
	ChunkReasoning ChunkKind = "reasoning"
)

type Chunk struct {
	Kind ChunkKind
	Text string
}
