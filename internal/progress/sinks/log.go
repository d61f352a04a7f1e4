// Package sinks provides progress.Sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/Rosersn/rose-vanblog/internal/progress"
)

// LogSink emits structured logs for revalidation progress streams.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs the event using structured fields.
func (s *LogSink) Consume(_ context.Context, evt progress.Event) error {
	fields := []zap.Field{
		zap.String("stage", string(evt.Stage)),
		zap.String("reason", evt.Reason),
		zap.String("url", evt.Path),
		zap.Int("attempts", evt.Attempts),
		zap.Int("url_total", evt.URLTotal),
		zap.Int("failed", evt.Failed),
		zap.Duration("dur", evt.Dur),
		zap.String("note", evt.Note),
	}
	switch evt.Stage {
	case progress.StageCycleAbort, progress.StagePathError:
		s.logger.Error("revalidation progress", fields...)
	default:
		s.logger.Info("revalidation progress", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
