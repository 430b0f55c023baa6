package pkg

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func swapLogger(t *testing.T, l *slog.Logger) {
	t.Helper()
	original := Logger()
	SetLogger(l)
	t.Cleanup(func() { SetLogger(original) })
}

func TestSetLogLevel(t *testing.T) {
	original := GetLogLevel()
	defer SetLogLevel(original)

	tests := []struct {
		name  string
		level slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetLogLevel(tt.level)
			if got := GetLogLevel(); got != tt.level {
				t.Errorf("GetLogLevel() = %v, want %v", got, tt.level)
			}
		})
	}
}

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, nil)
	logger.Warn("test message")
	if !strings.Contains(buf.String(), `"msg":"test message"`) {
		t.Errorf("JSON log output missing message: %s", buf.String())
	}
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		name string
		log  func(Component, string, ...any)
		comp Component
	}{
		{"debug", LogDebug, ComponentParser},
		{"info", LogInfo, ComponentStack},
		{"warn", LogWarn, ComponentHAL},
		{"error", LogError, ComponentDriver},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			swapLogger(t, NewLogger(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			tt.log(tt.comp, tt.name+" message", "key", "value")
			output := buf.String()
			if !strings.Contains(output, tt.name+" message") {
				t.Errorf("log missing message: %s", output)
			}
			if !strings.Contains(output, "component="+string(tt.comp)) {
				t.Errorf("log missing component: %s", output)
			}
			if !strings.Contains(output, "key=value") {
				t.Errorf("log missing attribute: %s", output)
			}
		})
	}
}

func TestLogFiltered(t *testing.T) {
	var buf bytes.Buffer
	swapLogger(t, NewLogger(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	LogDebug(ComponentDevice, "hidden")
	if buf.Len() != 0 {
		t.Errorf("debug record emitted at warn level: %s", buf.String())
	}
	if LogEnabled(slog.LevelDebug) {
		t.Error("LogEnabled(debug) = true, want false")
	}
	if !LogEnabled(slog.LevelError) {
		t.Error("LogEnabled(error) = false, want true")
	}
}

func TestSetLogFormat(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetLogFormat(&buf, LogFormatJSON)
	LogError(ComponentTransfer, "json record")
	if !strings.Contains(buf.String(), `"component":"transfer"`) {
		t.Errorf("JSON format missing component: %s", buf.String())
	}
}
