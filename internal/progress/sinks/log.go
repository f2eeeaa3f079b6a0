package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/mirrornet/pagepool/internal/progress"
)

// LogSink emits structured logs for debugging batch generation streams.
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

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.logger.Info("batch progress event",
			zap.String("batch_id", evt.BatchUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.Int("index", evt.Index),
			zap.Int("total", evt.Total),
			zap.String("slug", evt.Slug),
			zap.String("host", evt.Host),
			zap.String("generator", evt.Generator),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
