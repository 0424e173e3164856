package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mikeboe/deep-research/pkg/research"
)

const deepResearchToolName = "deep_research"

type DeepResearchArgs struct {
	Question           string `json:"question" jsonschema:"The question to research"`
	LanguagePreference string `json:"languagePreference,omitempty" jsonschema:"Language for the report, for example Indonesian. Omit or use auto to keep the model default"`
}

func NewMCPServer(svc *Service) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "deep-research",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server,
		&mcp.Tool{
			Name:        deepResearchToolName,
			Description: "Research a question on the web over several plan, search and aggregate rounds, then return a cited markdown report.",
		},
		deepResearchTool(svc),
	)
	return server
}

// NewMCPHandler serves the MCP streamable HTTP transport.
func NewMCPHandler(svc *Service) http.Handler {
	server := NewMCPServer(svc)
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
}

func deepResearchTool(svc *Service) func(context.Context, *mcp.CallToolRequest, DeepResearchArgs) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, args DeepResearchArgs) (*mcp.CallToolResult, any, error) {
		if strings.TrimSpace(args.Question) == "" {
			return toolError("question is required")
		}

		ctx, cancel := svc.WithTimeout(ctx)
		defer cancel()

		run, err := svc.Research(ctx, research.Request{
			Question:           args.Question,
			LanguagePreference: args.LanguagePreference,
		})
		if err != nil {
			return toolError(classifyError(err).Message)
		}

		text, err := run.Text()
		if err != nil {
			svc.Logger.Error("Synthesis failed", "run_id", run.ID, "error", err)
			return toolError(classifyError(err).Message)
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: formatToolReport(text, run.State.Sources)}},
		}, nil, nil
	}
}

func formatToolReport(text string, sources []research.Source) string {
	if len(sources) == 0 {
		return text
	}
	var sb strings.Builder
	sb.WriteString(text)
	sb.WriteString("\n\n## Sources\n")
	for _, src := range sources {
		title := src.Title
		if title == "" {
			title = src.URL
		}
		fmt.Fprintf(&sb, "- [%s](%s)\n", title, src.URL)
	}
	return sb.String()
}

func toolError(message string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: message}},
		IsError: true,
	}, nil, nil
}
