package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/thread-archiver/internal/progress"
)

// LogSink writes progress events as structured log entries. Operator
// messages and cycle results log at Info; byte-level download progress logs
// at Debug so it stays quiet unless asked for.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("thread", evt.Thread),
			zap.String("stage", string(evt.Stage)),
		}
		level := zapcore.InfoLevel
		msg := "progress event"
		switch evt.Stage {
		case progress.StageMessage:
			msg = evt.Message
		case progress.StageCycleDone:
			fields = append(fields,
				zap.String("result", evt.Result),
				zap.Int("new_posts", evt.Posts),
				zap.Duration("dur", evt.Dur))
		case progress.StageCycleError:
			level = zapcore.WarnLevel
			fields = append(fields, zap.String("error", evt.Message))
		case progress.StageWait:
			level = zapcore.DebugLevel
			fields = append(fields, zap.Duration("remaining", evt.Dur))
		case progress.StageDownloadBytes:
			level = zapcore.DebugLevel
			fields = append(fields,
				zap.String("url", evt.URL),
				zap.Int64("read", evt.Bytes),
				zap.Int64("total", evt.Total))
		case progress.StageDownloadStart, progress.StageDownloadDone:
			fields = append(fields,
				zap.String("url", evt.URL),
				zap.Int64("bytes", evt.Bytes),
				zap.String("status_class", string(evt.StatusClass)),
				zap.Duration("dur", evt.Dur))
		}
		if ce := s.logger.Check(level, msg); ce != nil {
			ce.Write(fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
