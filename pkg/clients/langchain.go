package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"

	"github.com/mikeboe/deep-research/pkg/llm"
	"github.com/mikeboe/deep-research/pkg/metrics"
)

var errStreamStopped = errors.New("stream consumer stopped")

// LangChainClient implements llm.Completer on any langchaingo model.
// Providers without native structured output get the schema in the prompt
// and a validate-and-retry loop.
type LangChainClient struct {
	LLM        llms.Model
	Provider   string
	Logger     *slog.Logger
	models     llm.Models
	maxSteps   int
	maxRetries int
	backoff    time.Duration
}

func NewLangChain(model llms.Model, provider string, models llm.Models, maxSteps int) *LangChainClient {
	if maxSteps <= 0 {
		maxSteps = 5
	}
	return &LangChainClient{
		LLM:        model,
		Provider:   provider,
		Logger:     slog.Default(),
		models:     models,
		maxSteps:   maxSteps,
		maxRetries: 3,
		backoff:    time.Second,
	}
}

func NewAnthropic(apiKey string, models llm.Models, maxSteps int) (*LangChainClient, error) {
	model, err := anthropic.New(anthropic.WithToken(apiKey), anthropic.WithModel(models.Synthesis))
	if err != nil {
		return nil, fmt.Errorf("failed to init anthropic client: %w", err)
	}
	return NewLangChain(model, "anthropic", models, maxSteps), nil
}

func messagesFor(system, prompt string) []llms.MessageContent {
	var messages []llms.MessageContent
	if system != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	return append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))
}

// generateWithRetry attempts to generate content and validates it using the provided function.
// It retries up to maxRetries times if the LLM fails or the validator returns an error.
func (c *LangChainClient) generateWithRetry(ctx context.Context, model string, prompts []llms.MessageContent, validator func(string) error) (string, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			c.Logger.Warn("Retrying LLM generation", "attempt", i+1, "last_error", lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.backoff * time.Duration(i)): // Linear backoff
			}
		}

		done := metrics.ObserveLLMCall(c.Provider, model, "object")
		resp, err := c.LLM.GenerateContent(ctx, prompts, llms.WithModel(model), llms.WithJSONMode())
		done(err)
		if err != nil {
			lastErr = llm.MarkUpstreamAccess(fmt.Errorf("llm generation failed: %w", err))
			if llm.IsUpstreamAccess(lastErr) {
				return "", lastErr
			}
			continue
		}

		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("llm returned no choices")
			continue
		}

		content := resp.Choices[0].Content
		if err := validator(content); err != nil {
			lastErr = fmt.Errorf("validation failed: %w", err)
			continue
		}

		return content, nil
	}

	return "", fmt.Errorf("operation failed after %d retries: %w", c.maxRetries, lastErr)
}

func (c *LangChainClient) GenerateObject(ctx context.Context, req llm.ObjectRequest, out any) error {
	system := req.System
	if system != "" {
		system += "\n\n"
	}
	system += "# Response Format:\n\n" + llm.SchemaInstruction(req.Schema)

	_, err := c.generateWithRetry(ctx, c.models.For(req.Role), messagesFor(system, req.Prompt), func(content string) error {
		return llm.DecodeSchemaObject(content, req.Schema, out)
	})
	if err != nil {
		return fmt.Errorf("invalid %s output: %w", req.Name, err)
	}
	return nil
}

func (c *LangChainClient) StreamText(ctx context.Context, req llm.TextRequest) iter.Seq2[llm.Chunk, error] {
	return func(yield func(llm.Chunk, error) bool) {
		model := c.models.For(req.Role)
		stopped := false

		done := metrics.ObserveLLMCall(c.Provider, model, "stream")
		_, err := c.LLM.GenerateContent(ctx, messagesFor(req.System, req.Prompt),
			llms.WithModel(model),
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				if len(chunk) == 0 {
					return nil
				}
				if !yield(llm.Chunk{Kind: llm.ChunkText, Text: string(chunk)}, nil) {
					stopped = true
					return errStreamStopped
				}
				return nil
			}),
		)
		if stopped {
			done(nil)
			return
		}
		done(err)
		if err != nil {
			yield(llm.Chunk{}, llm.MarkUpstreamAccess(fmt.Errorf("stream failed: %w", err)))
		}
	}
}

func (c *LangChainClient) GenerateText(ctx context.Context, req llm.TextRequest) (*llm.TextResult, error) {
	model := c.models.For(req.Role)
	messages := messagesFor(req.System, req.Prompt)

	opts := []llms.CallOption{llms.WithModel(model)}
	byName := make(map[string]llm.Tool, len(req.Tools))
	if len(req.Tools) > 0 {
		defs := make([]llms.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			byName[t.Name] = t
			defs = append(defs, llms.Tool{
				Type: "function",
				Function: &llms.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  llm.JSONSchema(t.Parameters),
				},
			})
		}
		opts = append(opts, llms.WithTools(defs))
	}

	result := &llm.TextResult{}
	for step := 0; ; step++ {
		done := metrics.ObserveLLMCall(c.Provider, model, "tools")
		resp, err := c.LLM.GenerateContent(ctx, messages, opts...)
		done(err)
		if err != nil {
			return nil, llm.MarkUpstreamAccess(fmt.Errorf("llm generation failed: %w", err))
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("llm returned no choices")
		}

		choice := resp.Choices[0]
		if len(choice.ToolCalls) == 0 || step >= c.maxSteps {
			if step >= c.maxSteps && len(choice.ToolCalls) > 0 {
				c.Logger.Warn("Tool step limit reached", "max_steps", c.maxSteps)
			}
			result.Text = choice.Content
			return result, nil
		}

		assistant := llms.MessageContent{Role: llms.ChatMessageTypeAI}
		if choice.Content != "" {
			assistant.Parts = append(assistant.Parts, llms.TextContent{Text: choice.Content})
		}
		var current llm.Step
		var responses []llms.MessageContent

		for _, tc := range choice.ToolCalls {
			if tc.FunctionCall == nil {
				continue
			}
			assistant.Parts = append(assistant.Parts, tc)
			name := tc.FunctionCall.Name
			args := json.RawMessage(tc.FunctionCall.Arguments)
			current.ToolCalls = append(current.ToolCalls, llm.ToolCall{ID: tc.ID, Name: name, Args: args})

			toolResult := llm.ToolResult{CallID: tc.ID, Name: name}
			if t, ok := byName[name]; !ok {
				toolResult.Err = fmt.Sprintf("unknown tool %q", name)
			} else if output, err := t.Call(ctx, args); err != nil {
				toolResult.Err = err.Error()
			} else {
				toolResult.Output = output
			}

			content := string(toolResult.Output)
			if toolResult.Err != "" {
				c.Logger.Warn("Tool call failed", "tool", name, "error", toolResult.Err)
				errJSON, _ := json.Marshal(map[string]string{"error": toolResult.Err})
				content = string(errJSON)
			}
			current.ToolResults = append(current.ToolResults, toolResult)
			responses = append(responses, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{ToolCallID: tc.ID, Name: name, Content: content},
				},
			})
		}

		messages = append(messages, assistant)
		messages = append(messages, responses...)
		result.Steps = append(result.Steps, current)
	}
}
