package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestNewLogger(t *testing.T) {
	t.Run("creates log file in state directory", func(t *testing.T) {
		dir := t.TempDir()

		logger, err := NewLogger(dir, LevelDebug, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		defer func() { _ = logger.Close() }()

		if _, err := os.Stat(filepath.Join(dir, LogFileName)); err != nil {
			t.Errorf("log file was not created: %v", err)
		}
	})

	t.Run("writes to stderr when dir is empty", func(t *testing.T) {
		logger, err := NewLogger("", LevelInfo, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		if logger.writer != nil {
			t.Error("expected no file writer when dir is empty")
		}
		if err := logger.Close(); err != nil {
			t.Errorf("Close() = %v, want nil", err)
		}
	})
}

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		want  int
	}{
		{LevelDebug, 4},
		{LevelInfo, 3},
		{LevelWarn, 2},
		{LevelError, 1},
		{"bogus", 3},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewWriterLogger(&buf, tt.level)

			logger.Debug("d")
			logger.Info("i")
			logger.Warn("w")
			logger.Error("e")

			if got := len(decodeLines(t, buf.Bytes())); got != tt.want {
				t.Errorf("got %d lines, want %d", got, tt.want)
			}
		})
	}
}

func TestLogger_ContextPropagation(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriterLogger(&buf, LevelDebug)

	child := base.WithComponent("manager").WithPipeline("01ABC").WithStage(2, "implement")
	child.Info("dispatched", "attempt", 1)
	base.Info("unrelated")

	lines := decodeLines(t, buf.Bytes())
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	first := lines[0]
	if first[KeyPipelineID] != "01ABC" {
		t.Errorf("pipeline_id = %v, want 01ABC", first[KeyPipelineID])
	}
	if first[KeyStage] != "implement" {
		t.Errorf("stage = %v, want implement", first[KeyStage])
	}
	if first[KeyStageIndex] != float64(2) {
		t.Errorf("stage_index = %v, want 2", first[KeyStageIndex])
	}
	if first[KeyComponent] != "manager" {
		t.Errorf("component = %v, want manager", first[KeyComponent])
	}
	if first["attempt"] != float64(1) {
		t.Errorf("attempt = %v, want 1", first["attempt"])
	}

	if _, ok := lines[1][KeyPipelineID]; ok {
		t.Error("parent logger should not inherit child attributes")
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriterLogger(&buf, LevelInfo)

	if base.With() != base {
		t.Error("With() with no args should return the receiver")
	}

	base.With("key", "value", 42, "skipped", "dangling").Info("msg")

	lines := decodeLines(t, buf.Bytes())
	if lines[0]["key"] != "value" {
		t.Errorf("key = %v, want value", lines[0]["key"])
	}
	if _, ok := lines[0]["dangling"]; ok {
		t.Error("dangling key without value should be ignored")
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	logger.WithPipeline("x").Error("discarded")
	if err := logger.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug": LevelDebug,
		"INFO":  LevelInfo,
		"Warn":  LevelWarn,
		"error": LevelError,
		"":      LevelInfo,
		"trace": LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %q, want %q", in, got, want)
		}
	}
	if len(ValidLevels()) != 4 {
		t.Errorf("ValidLevels() has %d entries, want 4", len(ValidLevels()))
	}
}
