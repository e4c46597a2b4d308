package emit

import (
	"context"
	"log/slog"
	"sort"
)

// LogEmitter implements Emitter by writing each event as a structured log
// record through log/slog.
//
// Events with an "error" meta key, and run failures, log at error level.
// Node start/end events log at debug level. Everything else logs at info.
//
// Example text output (slog.TextHandler):
//
//	level=INFO msg=interrupt thread=t-1 graph=analysis step=6 node=wait reason="awaiting choice"
//
// Usage:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
//	emitter := emit.NewLogEmitter(logger)
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates a LogEmitter. A nil logger uses slog.Default().
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit writes the event as one log record.
func (l *LogEmitter) Emit(event Event) {
	attrs := []slog.Attr{slog.String("thread", event.ThreadID)}
	if event.Graph != "" {
		attrs = append(attrs, slog.String("graph", event.Graph))
	}
	if event.Step > 0 {
		attrs = append(attrs, slog.Int("step", event.Step))
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
		attrs = append(attrs, slog.Any(k, event.Meta[k]))
	}

	l.logger.LogAttrs(context.Background(), levelFor(event), event.Msg, attrs...)
}

func levelFor(event Event) slog.Level {
	if _, ok := event.Meta["error"]; ok || event.Msg == MsgRunFailed {
		return slog.LevelError
	}
	switch event.Msg {
	case MsgNodeStart, MsgNodeEnd, MsgRoute:
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
