package server

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/llm"
	"github.com/mikeboe/deep-research/pkg/research"
)

// TranscriptStore records finished runs. *database.PostgresDB implements it.
type TranscriptStore interface {
	LogWriter
	CreateRun(ctx context.Context, id uuid.UUID, question, languagePreference string) error
	UpdateRunState(ctx context.Context, id uuid.UUID, state json.RawMessage) error
	FinishRun(ctx context.Context, id uuid.UUID, status, report, errMsg string) error
}

var errStreamAbandoned = errors.New("answer stream abandoned before completion")

type Service struct {
	Engine  *research.Engine
	Store   TranscriptStore // nil disables transcripts
	Logger  *slog.Logger
	Timeout time.Duration
}

func NewService(engine *research.Engine, store TranscriptStore, timeout time.Duration) *Service {
	return &Service{
		Engine:  engine,
		Store:   store,
		Logger:  slog.Default(),
		Timeout: timeout,
	}
}

// Run is one research request whose loop has finished and whose answer is
// ready to stream.
type Run struct {
	ID uuid.UUID
	*research.Report
}

// WithTimeout applies the whole-request budget to ctx.
func (s *Service) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.Timeout)
}

// Research runs the loop for req. The returned answer stream records the
// transcript once it has been drained.
func (s *Service) Research(ctx context.Context, req research.Request) (*Run, error) {
	id := uuid.New()
	logger := s.Logger
	store := s.Store

	if store != nil {
		if err := store.CreateRun(context.WithoutCancel(ctx), id, req.Question, req.LanguagePreference); err != nil {
			logger.Error("Failed to record run", "run_id", id, "error", err)
			store = nil
		} else {
			logger = slog.New(NewRunLogHandler(s.Logger.Handler(), store, id))
		}
	}
	logger = logger.With("run_id", id.String())

	engine := s.Engine.WithLogger(logger)
	if store != nil {
		engine.OnStateUpdate = func(state research.State) {
			stateJSON, err := json.Marshal(state)
			if err != nil {
				logger.Error("Failed to marshal state", "error", err)
				return
			}
			if err := store.UpdateRunState(context.WithoutCancel(ctx), id, stateJSON); err != nil {
				logger.Error("Failed to save state to DB", "error", err)
			}
		}
	}

	report, err := engine.Run(ctx, req)
	if err != nil {
		logger.Error("Research failed", "error", err)
		s.finish(ctx, store, logger, id, "", err)
		return nil, err
	}

	report.Answer = s.record(ctx, store, logger, id, report.Answer)
	return &Run{ID: id, Report: report}, nil
}

func (s *Service) record(ctx context.Context, store TranscriptStore, logger *slog.Logger, id uuid.UUID, answer iter.Seq2[llm.Chunk, error]) iter.Seq2[llm.Chunk, error] {
	return func(yield func(llm.Chunk, error) bool) {
		var sb strings.Builder
		var runErr error = errStreamAbandoned
		defer func() {
			if runErr != nil {
				logger.Warn("Answer stream ended early", "error", runErr)
			} else {
				logger.Info("Research completed", "report_length", sb.Len())
			}
			s.finish(ctx, store, logger, id, sb.String(), runErr)
		}()

		for chunk, err := range answer {
			if err != nil {
				runErr = err
				yield(chunk, err)
				return
			}
			if chunk.Kind == llm.ChunkText {
				sb.WriteString(chunk.Text)
			}
			if !yield(chunk, nil) {
				return
			}
		}
		runErr = nil
	}
}

func (s *Service) finish(ctx context.Context, store TranscriptStore, logger *slog.Logger, id uuid.UUID, report string, runErr error) {
	if store == nil {
		return
	}
	status, errMsg := database.StatusCompleted, ""
	if runErr != nil {
		status, errMsg = database.StatusFailed, runErr.Error()
	}
	if err := store.FinishRun(context.WithoutCancel(ctx), id, status, report, errMsg); err != nil {
		logger.Error("Failed to save final report to DB", "error", err)
	}
}
