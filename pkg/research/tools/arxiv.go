package tools

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultArxivBaseURL = "https://export.arxiv.org/api/query"

// ArxivEntry struct to hold arXiv entry data
type ArxivEntry struct {
	ID        string      `xml:"id"`
	Title     string      `xml:"title"`
	Summary   string      `xml:"summary"`
	Published string      `xml:"published"`
	Link      []ArxivLink `xml:"link"`
}

// ArxivLink struct to hold arXiv link data
type ArxivLink struct {
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr"`
}

// ArxivFeed struct to hold the entire arXiv feed
type ArxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entry   []ArxivEntry `xml:"entry"`
}

type ArxivSearchArgs struct {
	Query      string `json:"query" jsonschema:"arXiv search query, e.g. all:inflation AND all:indonesia"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"Number of papers to return (default 5)"`
}

type ArxivClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewArxivClient() *ArxivClient {
	return &ArxivClient{
		BaseURL:    defaultArxivBaseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Logger:     slog.Default(),
	}
}

// Search queries the arXiv API and returns each paper's abstract as a result.
func (c *ArxivClient) Search(ctx context.Context, args ArxivSearchArgs) (Output, error) {
	maxResults := args.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	if strings.TrimSpace(args.Query) == "" {
		return Output{}, fmt.Errorf("query is required")
	}

	params := url.Values{}
	params.Add("search_query", args.Query)
	params.Add("max_results", strconv.Itoa(maxResults))
	params.Add("start", "0")
	apiURL := c.BaseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return Output{}, fmt.Errorf("failed to create API request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Output{}, fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Output{}, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.Logger.Error("API returned non-200 status code", "status", resp.StatusCode, "body", string(body))
		return Output{}, fmt.Errorf("API returned non-200 status code: %d, body: %s", resp.StatusCode, string(body))
	}

	var feed ArxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return Output{}, fmt.Errorf("failed to unmarshal XML: %w", err)
	}

	c.Logger.Info("arXiv search completed", "query", args.Query, "entries", len(feed.Entry))
	return newOutput(args, feedResults(feed)), nil
}

func feedResults(feed ArxivFeed) []Result {
	results := make([]Result, 0, len(feed.Entry))
	for _, entry := range feed.Entry {
		link := strings.TrimSpace(entry.ID)
		for _, l := range entry.Link {
			if l.Type == "application/pdf" {
				link = l.Href
				break
			}
		}

		title := strings.Join(strings.Fields(entry.Title), " ")
		summary := strings.Join(strings.Fields(entry.Summary), " ")
		if summary == "" {
			continue
		}
		if entry.Published != "" {
			summary = fmt.Sprintf("%s (published %s)", summary, entry.Published)
		}

		results = append(results, Result{
			Content: []Content{{Text: summary}},
			Source:  Source{URL: link, Title: title},
		})
	}
	return results
}
