package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/adk/tool"
	"google.golang.org/genai"

	"github.com/mikeboe/deep-research/pkg/llm"
	"github.com/mikeboe/deep-research/pkg/metrics"
)

const (
	appName = "deep-research"
	userID  = "researcher"
)

// GeminiClient implements llm.Completer on the Gemini API. Structured and
// streamed calls go through genai directly; tool-enabled calls run an ADK
// agent so each tool round trip is observable as session events.
type GeminiClient struct {
	client   *genai.Client
	apiKey   string
	models   llm.Models
	maxSteps int
	Logger   *slog.Logger
}

func NewGemini(ctx context.Context, apiKey string, models llm.Models, maxSteps int) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if maxSteps <= 0 {
		maxSteps = 5
	}

	return &GeminiClient{
		client:   client,
		apiKey:   apiKey,
		models:   models,
		maxSteps: maxSteps,
		Logger:   slog.Default(),
	}, nil
}

func (c *GeminiClient) GenerateObject(ctx context.Context, req llm.ObjectRequest, out any) error {
	model := c.models.For(req.Role)
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   req.Schema,
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	done := metrics.ObserveLLMCall("gemini", model, "object")
	resp, err := c.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), cfg)
	done(err)
	if err != nil {
		return classifyGemini(fmt.Errorf("structured generation failed: %w", err))
	}

	if err := llm.DecodeSchemaObject(resp.Text(), req.Schema, out); err != nil {
		return fmt.Errorf("invalid %s output: %w", req.Name, err)
	}
	return nil
}

func (c *GeminiClient) StreamText(ctx context.Context, req llm.TextRequest) iter.Seq2[llm.Chunk, error] {
	return func(yield func(llm.Chunk, error) bool) {
		model := c.models.For(req.Role)
		cfg := &genai.GenerateContentConfig{
			ThinkingConfig: &genai.ThinkingConfig{IncludeThoughts: true},
		}
		if req.System != "" {
			cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
		}

		done := metrics.ObserveLLMCall("gemini", model, "stream")
		for resp, err := range c.client.Models.GenerateContentStream(ctx, model, genai.Text(req.Prompt), cfg) {
			if err != nil {
				done(err)
				yield(llm.Chunk{}, classifyGemini(fmt.Errorf("stream failed: %w", err)))
				return
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				if part.Text == "" {
					continue
				}
				kind := llm.ChunkText
				if part.Thought {
					kind = llm.ChunkReasoning
				}
				if !yield(llm.Chunk{Kind: kind, Text: part.Text}, nil) {
					done(nil)
					return
				}
			}
		}
		done(nil)
	}
}

func (c *GeminiClient) GenerateText(ctx context.Context, req llm.TextRequest) (*llm.TextResult, error) {
	if len(req.Tools) == 0 {
		return c.generatePlain(ctx, req)
	}

	model := c.models.For(req.Role)
	modelClient, err := gemini.NewModel(ctx, model, &genai.ClientConfig{
		APIKey: c.apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create model: %w", err)
	}

	toolset := &researchToolset{}
	for _, t := range req.Tools {
		adkTool, err := t.ADK()
		if err != nil {
			return nil, fmt.Errorf("failed to create %s tool: %w", t.Name, err)
		}
		toolset.tools = append(toolset.tools, adkTool)
	}

	assistant, err := llmagent.New(llmagent.Config{
		Name:        "research_assistant",
		Model:       modelClient,
		Description: "Runs web research tools for a single query.",
		Instruction: req.System,
		Toolsets:    []tool.Toolset{toolset},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	sessionSvc := session.InMemoryService()
	sessionID := uuid.NewString()
	if _, err := sessionSvc.Create(ctx, &session.CreateRequest{
		AppName:   appName,
		UserID:    userID,
		SessionID: sessionID,
	}); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	r, err := runner.New(runner.Config{
		AppName:        appName,
		Agent:          assistant,
		SessionService: sessionSvc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	userContent := genai.NewContentFromText(req.Prompt, genai.RoleUser)
	done := metrics.ObserveLLMCall("gemini", model, "tools")

	collector := newStepCollector(c.maxSteps)
	for event, err := range r.Run(ctx, userID, sessionID, userContent, agent.RunConfig{}) {
		if err != nil {
			done(err)
			return nil, classifyGemini(fmt.Errorf("agent run failed: %w", err))
		}
		if event == nil || event.LLMResponse.Content == nil {
			continue
		}
		if !collector.add(event.LLMResponse.Content.Parts) {
			c.Logger.Warn("Tool step limit reached", "max_steps", c.maxSteps)
			break
		}
	}
	done(nil)

	return collector.result(), nil
}

func (c *GeminiClient) generatePlain(ctx context.Context, req llm.TextRequest) (*llm.TextResult, error) {
	model := c.models.For(req.Role)
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	done := metrics.ObserveLLMCall("gemini", model, "text")
	resp, err := c.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), cfg)
	done(err)
	if err != nil {
		return nil, classifyGemini(fmt.Errorf("generation failed: %w", err))
	}
	return &llm.TextResult{Text: resp.Text()}, nil
}

// stepCollector folds agent events into steps: a model turn with function
// calls opens a step, the function responses that follow close it.
type stepCollector struct {
	steps    []llm.Step
	text     strings.Builder
	maxSteps int
}

func newStepCollector(maxSteps int) *stepCollector {
	return &stepCollector{maxSteps: maxSteps}
}

// add consumes one event's parts and reports whether more events are wanted.
func (s *stepCollector) add(parts []*genai.Part) bool {
	var calls []llm.ToolCall
	var results []llm.ToolResult

	for _, part := range parts {
		switch {
		case part == nil:
		case part.FunctionCall != nil:
			args, _ := json.Marshal(part.FunctionCall.Args)
			calls = append(calls, llm.ToolCall{
				ID:   part.FunctionCall.ID,
				Name: part.FunctionCall.Name,
				Args: args,
			})
		case part.FunctionResponse != nil:
			output, _ := json.Marshal(part.FunctionResponse.Response)
			result := llm.ToolResult{
				CallID: part.FunctionResponse.ID,
				Name:   part.FunctionResponse.Name,
				Output: output,
			}
			if msg, ok := part.FunctionResponse.Response["error"].(string); ok {
				result.Err = msg
			}
			results = append(results, result)
		case part.Text != "" && !part.Thought:
			s.text.WriteString(part.Text)
		}
	}

	if len(calls) > 0 {
		// Text before a tool call is interim narration, not the answer.
		s.text.Reset()
		s.steps = append(s.steps, llm.Step{ToolCalls: calls})
	}
	if len(results) > 0 && len(s.steps) > 0 {
		last := &s.steps[len(s.steps)-1]
		last.ToolResults = append(last.ToolResults, results...)
	}

	return len(s.steps) <= s.maxSteps
}

func (s *stepCollector) result() *llm.TextResult {
	return &llm.TextResult{
		Text:  strings.TrimSpace(s.text.String()),
		Steps: s.steps,
	}
}

type researchToolset struct {
	tools []tool.Tool
}

func (t *researchToolset) Name() string {
	return "research_tools"
}

func (t *researchToolset) Tools(ctx agent.ReadonlyContext) ([]tool.Tool, error) {
	return t.tools, nil
}

func classifyGemini(err error) error {
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	}

	switch code {
	case 401, 402, 403, 429:
		return fmt.Errorf("%w: %w", llm.ErrUpstreamAccess, err)
	}
	return llm.MarkUpstreamAccess(err)
}
