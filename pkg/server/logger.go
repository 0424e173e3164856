package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
)

// LogWriter persists log records for a run.
type LogWriter interface {
	InsertLog(ctx context.Context, runID uuid.UUID, ts time.Time, level, message string, metadata []byte) error
}

// RunLogHandler is a slog.Handler that passes records to the console handler
// and writes Info and above to research_logs for one run.
type RunLogHandler struct {
	next   slog.Handler
	store  LogWriter
	runID  uuid.UUID
	attrs  []slog.Attr
	prefix string
}

func NewRunLogHandler(next slog.Handler, store LogWriter, runID uuid.UUID) *RunLogHandler {
	return &RunLogHandler{
		next:  next,
		store: store,
		runID: runID,
	}
}

func (h *RunLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo || h.next.Enabled(ctx, level)
}

func (h *RunLogHandler) Handle(ctx context.Context, r slog.Record) error {
	var consoleErr error
	if h.next.Enabled(ctx, r.Level) {
		consoleErr = h.next.Handle(ctx, r)
	}
	if r.Level < slog.LevelInfo {
		return consoleErr
	}

	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = attrValue(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[h.prefix+a.Key] = attrValue(a.Value)
		return true
	})

	metaJSON, err := json.Marshal(attrs)
	if err != nil {
		metaJSON = []byte("{}")
	}

	// Logs must outlive a request that timed out or disconnected.
	err = h.store.InsertLog(context.WithoutCancel(ctx), h.runID, r.Time, r.Level.String(), r.Message, metaJSON)
	return errors.Join(consoleErr, err)
}

func (h *RunLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.next = h.next.WithAttrs(attrs)
	clone.attrs = slices.Clone(h.attrs)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

func (h *RunLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.next = h.next.WithGroup(name)
	clone.prefix = h.prefix + name + "."
	return &clone
}

func attrValue(v slog.Value) any {
	v = v.Resolve()
	if err, ok := v.Any().(error); ok {
		return err.Error()
	}
	if v.Kind() == slog.KindGroup {
		group := make(map[string]any)
		for _, a := range v.Group() {
			group[a.Key] = attrValue(a.Value)
		}
		return group
	}
	return v.Any()
}
