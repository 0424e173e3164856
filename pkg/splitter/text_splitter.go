package splitter

import (
	"github.com/tmc/langchaingo/textsplitter"
)

// TextSplitter wraps the langchaingo text splitter
type TextSplitter struct {
	splitter  textsplitter.TextSplitter
	chunkSize int
}

// NewRecursiveCharacterTextSplitter creates a new recursive character text splitter
func NewRecursiveCharacterTextSplitter(chunkSize, chunkOverlap int) *TextSplitter {
	ts := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)

	return &TextSplitter{splitter: ts, chunkSize: chunkSize}
}

// SplitText splits text into chunks
func (ts *TextSplitter) SplitText(text string) ([]string, error) {
	return ts.splitter.SplitText(text)
}

// Head returns at most n leading chunks of text. If splitting fails the
// text is cut to n chunk sizes instead.
func (ts *TextSplitter) Head(text string, n int) []string {
	if text == "" || n <= 0 {
		return nil
	}

	chunks, err := ts.splitter.SplitText(text)
	if err != nil {
		runes := []rune(text)
		limit := n * ts.chunkSize
		if limit > 0 && len(runes) > limit {
			runes = runes[:limit]
		}
		return []string{string(runes)}
	}

	if len(chunks) > n {
		chunks = chunks[:n]
	}
	return chunks
}
