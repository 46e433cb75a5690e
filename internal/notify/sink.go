// Package notify delivers engine events to humans and other systems. Every
// sink is best-effort: a failing sink is logged and never reaches the engine.
package notify

import (
	"context"
	"log/slog"

	"github.com/ErlanBelekov/keepwarm/internal/domain"
)

// Sink delivers one event. Sinks ignore event kinds they do not care about
// by returning nil.
type Sink interface {
	Name() string
	Publish(ctx context.Context, evt domain.Event) error
}

// Filter is implemented by sinks that only handle some events. The
// dispatcher skips the rest without spending the sink's rate budget.
type Filter interface {
	Accepts(evt domain.Event) bool
}

// LogSink writes every event to the structured log.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "notify_log")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Publish(ctx context.Context, evt domain.Event) error {
	level := slog.LevelInfo
	switch {
	case evt.Alert:
		level = slog.LevelWarn
	case evt.Kind == domain.EventTickSummary:
		level = slog.LevelDebug
	}
	s.logger.Log(ctx, level, Title(evt),
		"kind", evt.Kind,
		"model_id", evt.ModelID,
		"detail", Body(evt),
	)
	return nil
}
