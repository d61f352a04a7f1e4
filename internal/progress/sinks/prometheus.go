package sinks

import (
	"context"

	"github.com/Rosersn/rose-vanblog/internal/metrics"
	"github.com/Rosersn/rose-vanblog/internal/progress"
)

// PrometheusSink translates progress events into metric updates.
type PrometheusSink struct{}

// NewPrometheusSink constructs the sink; metrics.Init must have been called.
func NewPrometheusSink() *PrometheusSink {
	return &PrometheusSink{}
}

// Consume updates the relevant collectors for the event.
func (s *PrometheusSink) Consume(_ context.Context, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageCycleDone:
		metrics.ObserveCycle(metrics.CycleCompleted, evt.Dur)
	case progress.StageCycleAbort:
		metrics.ObserveCycle(metrics.CycleAborted, evt.Dur)
	case progress.StagePathDone:
		metrics.ObservePath(metrics.PathSuccess)
	case progress.StagePathError:
		metrics.ObservePath(metrics.PathFailure)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
