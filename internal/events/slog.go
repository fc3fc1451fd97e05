package events

import "log/slog"

// SlogEmitter writes events as structured log records.
type SlogEmitter struct {
	logger *slog.Logger
}

// NewSlogEmitter creates an emitter backed by logger, or
// slog.Default() when logger is nil.
func NewSlogEmitter(logger *slog.Logger) *SlogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogEmitter{logger: logger}
}

// Emit implements Emitter. Failures log at error level, everything
// else at info.
func (s *SlogEmitter) Emit(e Event) {
	attrs := []any{
		slog.String("task_id", e.TaskID),
	}
	if e.Stage != "" {
		attrs = append(attrs, slog.String("stage", e.Stage))
	}
	if e.DurationMS > 0 {
		attrs = append(attrs, slog.Int64("duration_ms", e.DurationMS))
	}

	if e.Type == TypeStageFailed {
		if e.Err != nil {
			attrs = append(attrs, slog.String("error", e.Err.Error()))
		}
		s.logger.Error(string(e.Type), attrs...)
		return
	}
	s.logger.Info(string(e.Type), attrs...)
}
