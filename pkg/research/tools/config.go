package tools

import "github.com/mikeboe/deep-research/pkg/config"

// FromConfig builds the toolset enabled by cfg. Parallel is always present;
// arXiv and PDF extraction are opt-in.
func FromConfig(cfg *config.Config) *Toolset {
	ts := &Toolset{
		Parallel: NewParallelClient(cfg.ParallelBaseURL, cfg.ParallelApiKey, cfg.ExtractChunkSize, cfg.ExtractMaxChunks),
	}
	if cfg.EnableArxiv {
		ts.Arxiv = NewArxivClient()
	}
	if cfg.MistralApiKey != "" {
		ts.PDF = NewPDFClient("", cfg.MistralApiKey, cfg.ExtractChunkSize, cfg.ExtractMaxChunks)
	}
	return ts
}
