package guest

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	wasmapi "github.com/woxQAQ/wasmllm/api/wasm"
)

type logLine struct {
	level uint32
	msg   string
}

func TestHostLogger(t *testing.T) {
	var lines []logLine
	sink := func(level uint32, msg []byte) {
		lines = append(lines, logLine{level, string(msg)})
	}

	logger := NewLogger(sink, zapcore.InfoLevel).With(zap.String("component", "engine"))
	logger.Debug("dropped")
	logger.Info("model loaded", zap.Int("tensors", 2))
	logger.Error("boom")

	want := []logLine{
		{wasmapi.LogInfo, `model loaded	{"component": "engine", "tensors": 2}`},
		{wasmapi.LogError, `boom	{"component": "engine"}`},
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d: %q", len(lines), len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %+v, want %+v", i, lines[i], want[i])
		}
	}
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]zapcore.Level{
		"":        zapcore.InfoLevel,
		"debug":   zapcore.DebugLevel,
		"warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
	} {
		if got := ParseLevel(name); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", name, got, want)
		}
	}

	var lines []logLine
	sink := func(level uint32, msg []byte) {
		lines = append(lines, logLine{level, string(msg)})
	}
	NewLogger(sink, ParseLevel("debug")).Debug("inference complete")
	if len(lines) != 1 || lines[0].level != wasmapi.LogDebug {
		t.Errorf("debug level should pass debug entries, got %q", lines)
	}
}
