package server

import (
	"bytes"
	"encoding/json"
	"iter"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mikeboe/deep-research/pkg/llm"
	"github.com/mikeboe/deep-research/pkg/metrics"
	"github.com/mikeboe/deep-research/pkg/research"
)

type Handler struct {
	Service *Service
	mcp     http.Handler
}

func NewHandler(s *Service) *Handler {
	return &Handler{Service: s, mcp: NewMCPHandler(s)}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", h.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	mcpHandler := gin.WrapH(h.mcp)
	r.POST("/mcp", mcpHandler)
	r.GET("/mcp", mcpHandler)
	r.DELETE("/mcp", mcpHandler)

	api := r.Group("/api")
	{
		api.POST("/research", h.research)
	}
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type researchBody struct {
	Messages           json.RawMessage `json:"messages"`
	LanguagePreference string          `json:"languagePreference"`
}

// parseResearchRequest validates the body before any model is called.
func parseResearchRequest(c *gin.Context) (research.Request, *APIError) {
	var body researchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		return research.Request{}, NewAPIError(CodeBadRequest, "request body must be a JSON object")
	}

	raw := bytes.TrimSpace(body.Messages)
	if len(raw) == 0 || raw[0] != '[' {
		return research.Request{}, NewAPIError(CodeBadRequest, "messages must be an array")
	}

	var messages []research.Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		return research.Request{}, NewAPIError(CodeBadRequest, "messages are malformed")
	}

	req, err := research.NewRequest(messages, body.LanguagePreference)
	if err != nil {
		return research.Request{}, NewAPIError(CodeBadRequest, "no user message with text found")
	}
	return req, nil
}

func (h *Handler) research(c *gin.Context) {
	req, apiErr := parseResearchRequest(c)
	if apiErr != nil {
		metrics.RunsTotal.WithLabelValues("rejected").Inc()
		c.JSON(apiErr.Status(), apiErr)
		return
	}

	ctx, cancel := h.Service.WithTimeout(c.Request.Context())
	defer cancel()

	run, err := h.Service.Research(ctx, req)
	if err != nil {
		h.fail(c, err)
		return
	}

	// Pull the first chunk before committing to a 200 so that a synthesis
	// call that fails outright still gets a status code.
	next, stop := iter.Pull2(run.Answer)
	defer stop()

	chunk, err, ok := next()
	if ok && err != nil {
		h.fail(c, err)
		return
	}

	stream := NewUIMessageStream(c.Writer)
	stream.Start(run.ID.String())
	stream.Sources(run.State.Sources)

	for ok {
		if err != nil {
			h.Service.Logger.Error("Answer stream failed", "run_id", run.ID, "error", err)
			stream.Error(streamErrorText(err))
			return
		}
		stream.Chunk(chunk)
		if stream.Err() != nil {
			h.Service.Logger.Warn("Client went away during streaming", "run_id", run.ID, "error", stream.Err())
			return
		}
		chunk, err, ok = next()
	}

	stream.Finish()
}

func (h *Handler) fail(c *gin.Context, err error) {
	apiErr := classifyError(err)
	h.Service.Logger.Error("Research request failed", "code", apiErr.Code, "error", err)
	c.JSON(apiErr.Status(), apiErr)
}

func streamErrorText(err error) string {
	if llm.IsUpstreamAccess(err) {
		return errorMessages[CodeActivateGateway]
	}
	return "An error occurred."
}
