package emit

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func jsonLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// TestLogEmitter_StructuredOutput verifies events become JSON log records.
func TestLogEmitter_StructuredOutput(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(jsonLogger(&buf))

	emitter.Emit(Event{
		ThreadID: "t-1",
		Graph:    "main",
		Step:     3,
		NodeID:   "review",
		Msg:      MsgInterrupt,
		Meta:     map[string]any{"reason": "awaiting review", "seq": int64(7)},
	})

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v: %s", err, buf.String())
	}
	want := map[string]any{
		"level":  "INFO",
		"msg":    MsgInterrupt,
		"thread": "t-1",
		"graph":  "main",
		"step":   float64(3),
		"node":   "review",
		"reason": "awaiting review",
		"seq":    float64(7),
	}
	for k, v := range want {
		if record[k] != v {
			t.Errorf("%s = %v, want %v", k, record[k], v)
		}
	}
}

// TestLogEmitter_OmitsEmptyFields verifies run-level events skip step and node.
func TestLogEmitter_OmitsEmptyFields(t *testing.T) {
	var buf bytes.Buffer
	NewLogEmitter(jsonLogger(&buf)).Emit(Event{ThreadID: "t-1", Msg: MsgRunStart})

	out := buf.String()
	if strings.Contains(out, `"step"`) || strings.Contains(out, `"node"`) {
		t.Errorf("unexpected step or node in %s", out)
	}
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		event Event
		want  slog.Level
	}{
		{Event{Msg: MsgNodeStart}, slog.LevelDebug},
		{Event{Msg: MsgNodeEnd}, slog.LevelDebug},
		{Event{Msg: MsgRoute}, slog.LevelDebug},
		{Event{Msg: MsgInterrupt}, slog.LevelInfo},
		{Event{Msg: MsgRunComplete}, slog.LevelInfo},
		{Event{Msg: MsgRunFailed}, slog.LevelError},
		{Event{Msg: MsgNodeError, Meta: map[string]any{"error": "boom"}}, slog.LevelError},
		{Event{Msg: MsgNodeEnd, Meta: map[string]any{"error": "handled"}}, slog.LevelError},
	}
	for _, tt := range tests {
		if got := levelFor(tt.event); got != tt.want {
			t.Errorf("levelFor(%s, %v) = %v, want %v", tt.event.Msg, tt.event.Meta, got, tt.want)
		}
	}
}

// TestLogEmitter_RespectsLevel verifies debug events are dropped at info level.
func TestLogEmitter_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	emitter := NewLogEmitter(logger)

	emitter.Emit(Event{ThreadID: "t-1", NodeID: "plan", Msg: MsgNodeStart})
	if buf.Len() != 0 {
		t.Errorf("debug event logged at info level: %s", buf.String())
	}
	emitter.Emit(Event{ThreadID: "t-1", Msg: MsgRunComplete})
	if !strings.Contains(buf.String(), "msg=run_complete") {
		t.Errorf("missing run_complete: %s", buf.String())
	}
}
