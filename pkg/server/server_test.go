package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/llm"
	"github.com/mikeboe/deep-research/pkg/research"
)

type fakeCompleter struct {
	mu sync.Mutex

	planErr   error
	chunks    []llm.Chunk
	streamErr error
	calls     int
}

func (f *fakeCompleter) GenerateText(ctx context.Context, req llm.TextRequest) (*llm.TextResult, error) {
	f.count()
	return &llm.TextResult{Text: "Jakarta has about 10 million residents."}, nil
}

func (f *fakeCompleter) GenerateObject(ctx context.Context, req llm.ObjectRequest, out any) error {
	f.count()
	switch req.Name {
	case "query plan":
		if f.planErr != nil {
			return f.planErr
		}
		return llm.DecodeObject(`{"reasoning":"start","expectedInformation":["population"],"queries":[{"query":"jakarta population","purpose":"size"}],"isComplete":false}`, out)
	default:
		return llm.DecodeObject(`{"keyFindings":[{"fact":"Jakarta has about 10 million residents","source":"https://example.com/jakarta","relevanceScore":9}],"summary":"Jakarta is large","gaps":[]}`, out)
	}
}

func (f *fakeCompleter) StreamText(ctx context.Context, req llm.TextRequest) iter.Seq2[llm.Chunk, error] {
	return func(yield func(llm.Chunk, error) bool) {
		f.count()
		for _, c := range f.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if f.streamErr != nil {
			yield(llm.Chunk{}, f.streamErr)
		}
	}
}

func (f *fakeCompleter) count() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeCompleter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type storedLog struct {
	level    string
	message  string
	metadata map[string]any
}

type fakeStore struct {
	mu sync.Mutex

	question string
	states   int
	status   string
	report   string
	errMsg   string
	logs     []storedLog
}

func (s *fakeStore) CreateRun(ctx context.Context, id uuid.UUID, question, languagePreference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.question = question
	s.status = database.StatusRunning
	return nil
}

func (s *fakeStore) UpdateRunState(ctx context.Context, id uuid.UUID, state json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states++
	return nil
}

func (s *fakeStore) FinishRun(ctx context.Context, id uuid.UUID, status, report, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.report, s.errMsg = status, report, errMsg
	return nil
}

func (s *fakeStore) InsertLog(ctx context.Context, runID uuid.UUID, ts time.Time, level, message string, metadata []byte) error {
	var meta map[string]any
	if err := json.Unmarshal(metadata, &meta); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, storedLog{level: level, message: message, metadata: meta})
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(completer llm.Completer, store TranscriptStore) *Service {
	engine := research.NewEngine(completer, nil, research.Options{MaxIterations: 1})
	engine.SetLogger(discardLogger())
	svc := NewService(engine, store, time.Minute)
	svc.Logger = discardLogger()
	return svc
}

func newTestRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(svc).RegisterRoutes(r)
	return r
}

func postResearch(r http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/research", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

const questionBody = `{"messages":[{"role":"user","parts":[{"type":"text","text":"How many people live in Jakarta?"}]}]}`

// parseEvents returns the data payload of every SSE event in body.
func parseEvents(t *testing.T, body string) []string {
	t.Helper()
	var events []string
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		require.True(t, strings.HasPrefix(line, "data: "), "unexpected line %q", line)
		events = append(events, strings.TrimPrefix(line, "data: "))
	}
	require.NoError(t, scanner.Err())
	return events
}

func partTypes(t *testing.T, events []string) []string {
	t.Helper()
	var types []string
	for _, e := range events {
		if e == "[DONE]" {
			types = append(types, e)
			continue
		}
		var p uiPart
		require.NoError(t, json.Unmarshal([]byte(e), &p))
		types = append(types, p.Type)
	}
	return types
}

func decodeAPIError(t *testing.T, w *httptest.ResponseRecorder) APIError {
	t.Helper()
	var apiErr APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
	return apiErr
}

func TestResearch_RejectsMalformedBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"messages":`},
		{"missing messages", `{}`},
		{"messages not an array", `{"messages":"hello"}`},
		{"messages is an object", `{"messages":{"role":"user"}}`},
		{"empty messages", `{"messages":[]}`},
		{"no user text", `{"messages":[{"role":"assistant","parts":[{"type":"text","text":"hi"}]}]}`},
		{"whitespace question", `{"messages":[{"role":"user","parts":[{"type":"text","text":"   "}]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := &fakeCompleter{}
			w := postResearch(newTestRouter(newTestService(completer, nil)), tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, CodeBadRequest, decodeAPIError(t, w).Code)
			assert.Zero(t, completer.Calls())
		})
	}
}

func TestResearch_StreamsUIMessageParts(t *testing.T) {
	completer := &fakeCompleter{chunks: []llm.Chunk{
		{Kind: llm.ChunkReasoning, Text: "weighing sources"},
		{Kind: llm.ChunkText, Text: "Jakarta has "},
		{Kind: llm.ChunkText, Text: "about 10 million people."},
	}}
	w := postResearch(newTestRouter(newTestService(completer, nil)), questionBody)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "v1", w.Header().Get("X-Vercel-AI-UI-Message-Stream"))
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	events := parseEvents(t, w.Body.String())
	assert.Equal(t, []string{
		"start", "start-step",
		"source-url",
		"reasoning-start", "reasoning-delta", "reasoning-end",
		"text-start", "text-delta", "text-delta", "text-end",
		"finish-step", "finish",
		"[DONE]",
	}, partTypes(t, events))

	var source uiPart
	require.NoError(t, json.Unmarshal([]byte(events[2]), &source))
	assert.Equal(t, "https://example.com/jakarta", source.URL)
	assert.Equal(t, "Jakarta has about 10 million residents", source.Title)
}

func TestResearch_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name      string
		completer *fakeCompleter
		status    int
		code      ErrorCode
	}{
		{
			name:      "upstream access on planning",
			completer: &fakeCompleter{planErr: llm.MarkUpstreamAccess(errors.New("API key not valid. secret-key-123"))},
			status:    http.StatusBadRequest,
			code:      CodeActivateGateway,
		},
		{
			name:      "planning failure",
			completer: &fakeCompleter{planErr: errors.New("connection reset at 10.0.0.7")},
			status:    http.StatusServiceUnavailable,
			code:      CodeOffline,
		},
		{
			name:      "synthesis fails before output",
			completer: &fakeCompleter{streamErr: errors.New("stream refused at 10.0.0.7")},
			status:    http.StatusServiceUnavailable,
			code:      CodeOffline,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postResearch(newTestRouter(newTestService(tt.completer, nil)), questionBody)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decodeAPIError(t, w).Code)
			assert.NotContains(t, w.Body.String(), "10.0.0.7")
			assert.NotContains(t, w.Body.String(), "secret-key-123")
		})
	}
}

func TestResearch_MidStreamErrorPart(t *testing.T) {
	completer := &fakeCompleter{
		chunks:    []llm.Chunk{{Kind: llm.ChunkText, Text: "partial"}},
		streamErr: errors.New("upstream hung up"),
	}
	w := postResearch(newTestRouter(newTestService(completer, nil)), questionBody)

	require.Equal(t, http.StatusOK, w.Code)
	events := parseEvents(t, w.Body.String())
	types := partTypes(t, events)
	assert.Equal(t, []string{"error", "[DONE]"}, types[len(types)-2:])
	assert.NotContains(t, types, "finish")

	var errPart uiPart
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-2]), &errPart))
	assert.Equal(t, "An error occurred.", errPart.ErrorText)
}

func TestResearch_RecordsTranscript(t *testing.T) {
	store := &fakeStore{}
	completer := &fakeCompleter{chunks: []llm.Chunk{
		{Kind: llm.ChunkReasoning, Text: "hidden"},
		{Kind: llm.ChunkText, Text: "Hello "},
		{Kind: llm.ChunkText, Text: "world"},
	}}
	w := postResearch(newTestRouter(newTestService(completer, store)), questionBody)
	require.Equal(t, http.StatusOK, w.Code)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, "How many people live in Jakarta?", store.question)
	assert.Equal(t, database.StatusCompleted, store.status)
	assert.Equal(t, "Hello world", store.report)
	assert.Empty(t, store.errMsg)
	assert.Positive(t, store.states)

	var messages []string
	for _, l := range store.logs {
		messages = append(messages, l.message)
	}
	assert.Contains(t, messages, "Starting deep research")
	assert.Contains(t, messages, "Research completed")
}

func TestResearch_RecordsFailedTranscript(t *testing.T) {
	store := &fakeStore{}
	completer := &fakeCompleter{planErr: errors.New("model offline")}
	w := postResearch(newTestRouter(newTestService(completer, store)), questionBody)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, database.StatusFailed, store.status)
	assert.Contains(t, store.errMsg, "model offline")
}

func TestRunLogHandler(t *testing.T) {
	store := &fakeStore{}
	console := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewRunLogHandler(console, store, uuid.New()))

	logger.Debug("not stored")
	logger.With("iteration", 2).WithGroup("search").Warn("query failed",
		"query", "jakarta",
		"error", errors.New("timeout"),
	)

	require.Len(t, store.logs, 1)
	got := store.logs[0]
	assert.Equal(t, "WARN", got.level)
	assert.Equal(t, "query failed", got.message)
	assert.Equal(t, map[string]any{
		"iteration":    float64(2),
		"search.query": "jakarta",
		"search.error": "timeout",
	}, got.metadata)
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(newTestService(&fakeCompleter{}, nil))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestDeepResearchTool(t *testing.T) {
	toolText := func(t *testing.T, res *mcp.CallToolResult) string {
		t.Helper()
		require.Len(t, res.Content, 1)
		text, ok := res.Content[0].(*mcp.TextContent)
		require.True(t, ok)
		return text.Text
	}

	t.Run("returns report with sources", func(t *testing.T) {
		completer := &fakeCompleter{chunks: []llm.Chunk{
			{Kind: llm.ChunkReasoning, Text: "hidden"},
			{Kind: llm.ChunkText, Text: "# Jakarta\n\nAbout 10 million people."},
		}}
		res, _, err := deepResearchTool(newTestService(completer, nil))(context.Background(), nil, DeepResearchArgs{Question: "How many people live in Jakarta?"})
		require.NoError(t, err)
		assert.False(t, res.IsError)

		text := toolText(t, res)
		assert.True(t, strings.HasPrefix(text, "# Jakarta"))
		assert.Contains(t, text, "## Sources\n- [Jakarta has about 10 million residents](https://example.com/jakarta)")
		assert.NotContains(t, text, "hidden")
	})

	t.Run("requires a question", func(t *testing.T) {
		completer := &fakeCompleter{}
		res, _, err := deepResearchTool(newTestService(completer, nil))(context.Background(), nil, DeepResearchArgs{Question: " "})
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Zero(t, completer.Calls())
	})

	t.Run("upstream access", func(t *testing.T) {
		completer := &fakeCompleter{planErr: llm.MarkUpstreamAccess(errors.New("quota exceeded"))}
		res, _, err := deepResearchTool(newTestService(completer, nil))(context.Background(), nil, DeepResearchArgs{Question: "q"})
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Equal(t, errorMessages[CodeActivateGateway], toolText(t, res))
	})
}
