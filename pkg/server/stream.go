package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/llm"
	"github.com/mikeboe/deep-research/pkg/research"
)

// UIMessageStream writes the AI SDK UI message stream protocol: one JSON
// part per SSE event, terminated by [DONE].
type UIMessageStream struct {
	w      http.ResponseWriter
	open   llm.ChunkKind
	partID string
	err    error
}

type uiPart struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	SourceID  string `json:"sourceId,omitempty"`
	URL       string `json:"url,omitempty"`
	Title     string `json:"title,omitempty"`
	Delta     string `json:"delta,omitempty"`
	ErrorText string `json:"errorText,omitempty"`
}

func NewUIMessageStream(w http.ResponseWriter) *UIMessageStream {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Vercel-AI-UI-Message-Stream", "v1")
	w.WriteHeader(http.StatusOK)
	return &UIMessageStream{w: w}
}

// Err reports the first write failure, usually a disconnected client.
func (s *UIMessageStream) Err() error {
	return s.err
}

func (s *UIMessageStream) Start(messageID string) {
	s.write(uiPart{Type: "start", MessageID: messageID})
	s.write(uiPart{Type: "start-step"})
}

func (s *UIMessageStream) Sources(sources []research.Source) {
	for _, src := range sources {
		s.write(uiPart{Type: "source-url", SourceID: uuid.NewString(), URL: src.URL, Title: src.Title})
	}
}

// Chunk appends a delta, opening a new text or reasoning block whenever the
// chunk kind changes.
func (s *UIMessageStream) Chunk(chunk llm.Chunk) {
	if chunk.Text == "" {
		return
	}
	if s.open != chunk.Kind {
		s.closeBlock()
		s.open = chunk.Kind
		s.partID = uuid.NewString()
		s.write(uiPart{Type: string(chunk.Kind) + "-start", ID: s.partID})
	}
	s.write(uiPart{Type: string(chunk.Kind) + "-delta", ID: s.partID, Delta: chunk.Text})
}

func (s *UIMessageStream) Finish() {
	s.closeBlock()
	s.write(uiPart{Type: "finish-step"})
	s.write(uiPart{Type: "finish"})
	s.done()
}

func (s *UIMessageStream) Error(text string) {
	s.write(uiPart{Type: "error", ErrorText: text})
	s.done()
}

func (s *UIMessageStream) closeBlock() {
	if s.open == "" {
		return
	}
	s.write(uiPart{Type: string(s.open) + "-end", ID: s.partID})
	s.open = ""
}

func (s *UIMessageStream) write(p uiPart) {
	data, err := json.Marshal(p)
	if err != nil {
		s.err = err
		return
	}
	s.writeEvent(string(data))
}

func (s *UIMessageStream) done() {
	s.writeEvent("[DONE]")
}

func (s *UIMessageStream) writeEvent(data string) {
	if s.err != nil {
		return
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		s.err = err
		return
	}
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
}
