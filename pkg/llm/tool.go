package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"
	"google.golang.org/genai"
)

// Tool is a function the model may call during GenerateText.
type Tool struct {
	Name        string
	Description string
	Parameters  *genai.Schema

	call func(ctx context.Context, args json.RawMessage) (any, error)
	adk  func() (tool.Tool, error)
}

// NewTool wraps a typed handler. Args is decoded from the model's JSON
// arguments; Resp is what the model sees as the tool output.
func NewTool[Args, Resp any](name, description string, parameters *genai.Schema, fn func(ctx context.Context, args Args) (Resp, error)) Tool {
	return Tool{
		Name:        name,
		Description: description,
		Parameters:  parameters,
		call: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args Args
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, fmt.Errorf("invalid arguments for %s: %w", name, err)
				}
			}
			return fn(ctx, args)
		},
		adk: func() (tool.Tool, error) {
			return functiontool.New[Args, Resp](
				functiontool.Config{
					Name:        name,
					Description: description,
				},
				func(ctx tool.Context, args Args) (Resp, error) {
					return fn(ctx, args)
				},
			)
		},
	}
}

// Call executes the tool and returns its JSON-encoded output.
func (t Tool) Call(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	if t.call == nil {
		return nil, fmt.Errorf("tool %s has no handler", t.Name)
	}
	out, err := t.call(ctx, args)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s output: %w", t.Name, err)
	}
	return data, nil
}

// ADK converts the tool into an agent-development-kit function tool.
func (t Tool) ADK() (tool.Tool, error) {
	if t.adk == nil {
		return nil, fmt.Errorf("tool %s has no handler", t.Name)
	}
	return t.adk()
}
