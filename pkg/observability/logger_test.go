package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/platinummonkey/insight/pkg/contextkeys"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, FormatJSON, &buf)

	t.Run("debug not logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		if buf.Len() > 0 {
			t.Error("Debug message should not be logged at Info level")
		}
	})

	t.Run("info logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Info("info message")
		if buf.Len() == 0 {
			t.Fatal("Info message should be logged at Info level")
		}

		var entry map[string]interface{}
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("Failed to unmarshal log entry: %v", err)
		}

		if entry["level"] != "info" {
			t.Errorf("Expected level info, got %v", entry["level"])
		}
		if entry["msg"] != "info message" {
			t.Errorf("Expected message 'info message', got %v", entry["msg"])
		}
	})

	t.Run("warn logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Warn("warn message")
		if buf.Len() == 0 {
			t.Error("Warn message should be logged at Info level")
		}
	})
}

func TestLogger_WithField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, FormatJSON, &buf)

	logger.WithField("table", "blog_post").Info("message")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to unmarshal log entry: %v", err)
	}

	if entry["table"] != "blog_post" {
		t.Errorf("Expected field 'table' to be 'blog_post', got %v", entry["table"])
	}
}

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, FormatText, &buf)

	logger.Debug("plain message")
	if !strings.Contains(buf.String(), "plain message") {
		t.Errorf("Expected text output to contain message, got %q", buf.String())
	}
	if strings.HasPrefix(buf.String(), "{") {
		t.Error("Text format should not produce JSON")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"bogus", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLogLevel(tt.input); got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLogLevel_String(t *testing.T) {
	if DebugLevel.String() != "DEBUG" || ErrorLevel.String() != "ERROR" {
		t.Error("unexpected level names")
	}
	if LogLevel(42).String() != "INFO" {
		t.Error("unknown levels should render as INFO")
	}
}

func TestFromContext(t *testing.T) {
	t.Run("stored logger", func(t *testing.T) {
		logger, hook := test.NewNullLogger()
		ctx := WithLogger(context.Background(), logger.WithField("run", "1"))

		FromContext(ctx).Info("hello")

		if len(hook.AllEntries()) != 1 {
			t.Fatalf("Expected 1 entry, got %d", len(hook.AllEntries()))
		}
		if hook.LastEntry().Data["run"] != "1" {
			t.Error("Expected stored fields to be kept")
		}
	})

	t.Run("run id attached", func(t *testing.T) {
		logger, hook := test.NewNullLogger()
		ctx := WithLogger(context.Background(), logger)
		ctx = contextkeys.WithRunID(ctx, "abc")

		FromContext(ctx).Info("hello")

		if hook.LastEntry().Data["run_id"] != "abc" {
			t.Errorf("Expected run_id field, got %v", hook.LastEntry().Data)
		}
	})

	t.Run("falls back to standard logger", func(t *testing.T) {
		if FromContext(context.Background()) != logrus.FieldLogger(logrus.StandardLogger()) {
			t.Error("Expected the standard logger")
		}
	})
}
