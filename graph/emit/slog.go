package emit

import (
	"context"
	"log/slog"
	"sort"
)

// SlogEmitter writes events as structured log records.
//
// Failed nodes log at Error, halts at Info, everything else at Debug, so the
// default Info level shows one line per trial.
type SlogEmitter struct {
	logger *slog.Logger
}

// NewSlogEmitter creates an emitter that logs to logger, or slog.Default()
// when logger is nil.
func NewSlogEmitter(logger *slog.Logger) *SlogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogEmitter{logger: logger}
}

// Emit implements Emitter.
func (s *SlogEmitter) Emit(event Event) {
	level := slog.LevelDebug
	switch event.Msg {
	case MsgNodeFailed:
		level = slog.LevelError
	case MsgHalted:
		level = slog.LevelInfo
	}

	attrs := []slog.Attr{
		slog.String("thread_id", event.ThreadID),
		slog.Int("seq", event.Seq),
	}
	if event.NodeID != "" {
		attrs = append(attrs, slog.String("node", event.NodeID))
	}

	keys := make([]string, 0, len(event.Meta))
	for k := range event.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key := k
		if key == "error" {
			key = "err"
		}
		attrs = append(attrs, slog.Any(key, event.Meta[k]))
	}

	s.logger.LogAttrs(context.Background(), level, event.Msg, attrs...)
}
