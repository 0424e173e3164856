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
	defaultMistralBaseURL = "https://api.mistral.ai"
	mistralOCRModel       = "mistral-ocr-latest"
)

// PDFClient extracts PDF documents as markdown through the Mistral OCR API.
type PDFClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Splitter   *splitter.TextSplitter
	MaxChunks  int
	Logger     *slog.Logger
}

func NewPDFClient(baseURL, apiKey string, chunkSize, maxChunks int) *PDFClient {
	if baseURL == "" {
		baseURL = defaultMistralBaseURL
	}
	if chunkSize <= 0 {
		chunkSize = 2000
	}
	if maxChunks <= 0 {
		maxChunks = 4
	}
	return &PDFClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 90 * time.Second},
		Splitter:   splitter.NewRecursiveCharacterTextSplitter(chunkSize, chunkSize/10),
		MaxChunks:  maxChunks,
		Logger:     slog.Default(),
	}
}

type PDFExtractArgs struct {
	URL string `json:"url" jsonschema:"Public URL of the PDF document"`
}

type ocrDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url"`
}

type ocrRequest struct {
	Model              string      `json:"model"`
	Document           ocrDocument `json:"document"`
	IncludeImageBase64 bool        `json:"include_image_base64"`
}

type ocrPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

type ocrResponse struct {
	Pages []ocrPage `json:"pages"`
}

// Extract runs OCR over the document and returns its leading chunks as one
// result attributed to the document URL.
func (c *PDFClient) Extract(ctx context.Context, args PDFExtractArgs) (Output, error) {
	url := strings.TrimSpace(args.URL)
	if url == "" {
		return Output{}, fmt.Errorf("url is required")
	}
	url = strings.Replace(url, "http://", "https://", 1)

	resp, err := c.ocr(ctx, url)
	if err != nil {
		return Output{}, fmt.Errorf("pdf extract failed: %w", err)
	}

	var sb strings.Builder
	for _, page := range resp.Pages {
		fmt.Fprintf(&sb, "- Page %d -\n%s\n\n", page.Index, page.Markdown)
	}

	var content []Content
	for _, chunk := range c.Splitter.Head(strings.TrimSpace(sb.String()), c.MaxChunks) {
		content = append(content, Content{Text: chunk})
	}

	c.Logger.Info("PDF extract completed", "url", url, "pages", len(resp.Pages))
	return newOutput(args, []Result{{
		Content: content,
		Source:  Source{URL: url, Title: pdfTitle(url)},
	}}), nil
}

func (c *PDFClient) ocr(ctx context.Context, url string) (*ocrResponse, error) {
	jsonBody, err := json.Marshal(ocrRequest{
		Model:    mistralOCRModel,
		Document: ocrDocument{Type: "document_url", DocumentURL: url},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/ocr", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status: %s, body: %s", resp.Status, string(body))
	}

	var out ocrResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OCR response: %w", err)
	}
	return &out, nil
}

// pdfTitle uses the file name as the title, since OCR output carries none.
func pdfTitle(url string) string {
	name := url
	if i := strings.LastIndex(name, "/"); i >= 0 && i < len(name)-1 {
		name = name[i+1:]
	}
	if i := strings.IndexAny(name, "?#"); i > 0 {
		name = name[:i]
	}
	return name
}
