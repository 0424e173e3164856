package tools

import (
	"google.golang.org/genai"

	"github.com/mikeboe/deep-research/pkg/llm"
)

const (
	WebSearchTool   = "webSearch"
	WebExtractTool  = "webExtract"
	ArxivSearchTool = "arxivSearch"
	PDFExtractTool  = "pdfExtract"
)

// Toolset declares the research tools handed to the completion service.
// Arxiv and PDF are optional.
type Toolset struct {
	Parallel *ParallelClient
	Arxiv    *ArxivClient
	PDF      *PDFClient
}

func (t *Toolset) Tools() []llm.Tool {
	tools := []llm.Tool{
		llm.NewTool(WebSearchTool,
			"Search the web. Describe the information you need in the objective; optionally add keyword search queries. Returns ranked excerpts with their source URL and title.",
			&genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"objective":      {Type: genai.TypeString, Description: "Natural-language description of what the search should find"},
					"search_queries": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}, Description: "Optional keyword queries to run"},
				},
				Required: []string{"objective"},
			},
			t.Parallel.Search,
		),
		llm.NewTool(WebExtractTool,
			"Extract the content of specific web pages by URL, focused on an objective.",
			&genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"urls":      {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}, Description: "Public URLs to extract content from"},
					"objective": {Type: genai.TypeString, Description: "What to focus on when extracting"},
				},
				Required: []string{"urls"},
			},
			t.Parallel.Extract,
		),
	}

	if t.Arxiv != nil {
		tools = append(tools, llm.NewTool(ArxivSearchTool,
			"Search arXiv for academic papers. Returns paper abstracts with links.",
			&genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"query":       {Type: genai.TypeString, Description: "arXiv search query"},
					"max_results": {Type: genai.TypeInteger, Description: "Number of papers to return (default 5)"},
				},
				Required: []string{"query"},
			},
			t.Arxiv.Search,
		))
	}

	if t.PDF != nil {
		tools = append(tools, llm.NewTool(PDFExtractTool,
			"Read a PDF document by URL. Use this for reports and papers that webExtract cannot read.",
			&genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"url": {Type: genai.TypeString, Description: "Public URL of the PDF document"},
				},
				Required: []string{"url"},
			},
			t.PDF.Extract,
		))
	}

	return tools
}
