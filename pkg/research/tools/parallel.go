package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mikeboe/deep-research/pkg/splitter"
)

const (
	defaultParallelBaseURL = "https://api.parallel.ai"
	parallelBetaHeader     = "search-extract-2025-10-10"
	defaultMaxResults      = 8
	maxCharsPerResult      = 1500
)

// ParallelClient talks to the Parallel web search and extract APIs.
type ParallelClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Splitter   *splitter.TextSplitter
	MaxChunks  int
	Logger     *slog.Logger
}

func NewParallelClient(baseURL, apiKey string, chunkSize, maxChunks int) *ParallelClient {
	if baseURL == "" {
		baseURL = defaultParallelBaseURL
	}
	if chunkSize <= 0 {
		chunkSize = 2000
	}
	if maxChunks <= 0 {
		maxChunks = 4
	}
	return &ParallelClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Splitter:   splitter.NewRecursiveCharacterTextSplitter(chunkSize, chunkSize/10),
		MaxChunks:  maxChunks,
		Logger:     slog.Default(),
	}
}

type WebSearchArgs struct {
	Objective     string   `json:"objective" jsonschema:"Natural-language description of what the search should find"`
	SearchQueries []string `json:"search_queries,omitempty" jsonschema:"Optional keyword queries to run"`
}

type WebExtractArgs struct {
	URLs      []string `json:"urls" jsonschema:"Public URLs to extract content from"`
	Objective string   `json:"objective,omitempty" jsonschema:"What to focus on when extracting"`
}

type parallelSearchRequest struct {
	Objective         string   `json:"objective"`
	SearchQueries     []string `json:"search_queries,omitempty"`
	Processor         string   `json:"processor"`
	MaxResults        int      `json:"max_results"`
	MaxCharsPerResult int      `json:"max_chars_per_result"`
}

type parallelExtractRequest struct {
	URLs        []string `json:"urls"`
	Objective   string   `json:"objective,omitempty"`
	Excerpts    bool     `json:"excerpts"`
	FullContent bool     `json:"full_content"`
}

type parallelResult struct {
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Excerpts    []string `json:"excerpts"`
	FullContent string   `json:"full_content"`
}

type parallelResponse struct {
	Results []parallelResult `json:"results"`
}

// Search runs a web search and returns the normalised tool output.
func (c *ParallelClient) Search(ctx context.Context, args WebSearchArgs) (Output, error) {
	objective := strings.TrimSpace(args.Objective)
	if objective == "" && len(args.SearchQueries) == 0 {
		return Output{}, fmt.Errorf("objective or search_queries is required")
	}

	req := parallelSearchRequest{
		Objective:         objective,
		SearchQueries:     args.SearchQueries,
		Processor:         "base",
		MaxResults:        defaultMaxResults,
		MaxCharsPerResult: maxCharsPerResult,
	}

	var resp parallelResponse
	if err := c.post(ctx, "/v1beta/search", req, &resp); err != nil {
		return Output{}, fmt.Errorf("web search failed: %w", err)
	}

	results := make([]Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		content := make([]Content, 0, len(r.Excerpts))
		for _, excerpt := range r.Excerpts {
			content = append(content, Content{Text: excerpt})
		}
		results = append(results, Result{
			Content: content,
			Source:  Source{URL: r.URL, Title: r.Title},
		})
	}

	c.Logger.Info("Web search completed", "objective", objective, "results", len(results))
	return newOutput(args, results), nil
}

// Extract fetches page content for the given URLs. Full page content is
// bounded to the first MaxChunks splitter chunks.
func (c *ParallelClient) Extract(ctx context.Context, args WebExtractArgs) (Output, error) {
	if len(args.URLs) == 0 {
		return Output{}, fmt.Errorf("urls is required")
	}

	req := parallelExtractRequest{
		URLs:        args.URLs,
		Objective:   args.Objective,
		Excerpts:    true,
		FullContent: true,
	}

	var resp parallelResponse
	if err := c.post(ctx, "/v1beta/extract", req, &resp); err != nil {
		return Output{}, fmt.Errorf("web extract failed: %w", err)
	}

	results := make([]Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		var content []Content
		if r.FullContent != "" {
			for _, chunk := range c.Splitter.Head(r.FullContent, c.MaxChunks) {
				content = append(content, Content{Text: chunk})
			}
		} else {
			for _, excerpt := range r.Excerpts {
				content = append(content, Content{Text: excerpt})
			}
		}
		results = append(results, Result{
			Content: content,
			Source:  Source{URL: r.URL, Title: r.Title},
		})
	}

	c.Logger.Info("Web extract completed", "urls", len(args.URLs), "results", len(results))
	return newOutput(args, results), nil
}

func (c *ParallelClient) post(ctx context.Context, path string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("parallel-beta", parallelBetaHeader)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API request failed with status: %s, body: %s", resp.Status, string(data))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
