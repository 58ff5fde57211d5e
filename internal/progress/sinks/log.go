package sinks

import (
	"context"

	"go.uber.org/zap"

	"mpharvester/internal/progress"
)

// LogSink writes one structured line per milestone. Job transitions log at
// Info and detections at Warn; per-article events log at Debug so a large
// harvest stays readable at the default level.
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

// Consume logs each event in the batch, omitting fields the stage does not
// populate.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := make([]zap.Field, 0, 9)
		fields = append(fields,
			zap.String("job_id", evt.JobUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("strategy", string(evt.Strategy)),
		)
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL), zap.Int("depth", evt.Depth))
		}
		if evt.Account != "" {
			fields = append(fields, zap.String("account", evt.Account))
		}
		if evt.Mode != "" {
			fields = append(fields, zap.String("mode", string(evt.Mode)))
		}
		if evt.Bytes > 0 {
			fields = append(fields, zap.Int64("bytes", evt.Bytes))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		switch {
		case evt.Stage == progress.StageDetection:
			s.logger.Warn("harvest progress", fields...)
		case evt.Terminal(), evt.Stage == progress.StageJobStart:
			s.logger.Info("harvest progress", fields...)
		default:
			s.logger.Debug("harvest progress", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
