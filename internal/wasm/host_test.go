package wasm

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogWriterSplitsLines(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	w := newLogWriter(zap.New(core), "stderr", zapcore.WarnLevel)

	if _, err := w.Write([]byte("first\nsec")); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if logs.Len() != 1 {
		t.Fatalf("expected 1 entry before the line completes, got %d", logs.Len())
	}

	_, _ = w.Write([]byte("ond\n"))
	_, _ = w.Write([]byte("tail"))
	w.Flush()

	entries := logs.AllUntimed()
	want := []string{"first", "second", "tail"}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, e := range entries {
		if e.Message != want[i] {
			t.Errorf("entry %d = %q, want %q", i, e.Message, want[i])
		}
		if e.Level != zapcore.WarnLevel {
			t.Errorf("entry %d level = %v, want warn", i, e.Level)
		}
		if e.ContextMap()["stream"] != "stderr" {
			t.Errorf("entry %d missing stream field", i)
		}
	}
}

func TestLogWriterRespectsLevel(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	w := newLogWriter(zap.New(core), "stdout", zapcore.DebugLevel)

	_, _ = w.Write([]byte("hidden\n"))
	w.Flush()

	if logs.Len() != 0 {
		t.Errorf("debug output should be dropped at info level, got %d entries", logs.Len())
	}
}
