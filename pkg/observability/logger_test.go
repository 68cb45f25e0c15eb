package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/platinummonkey/isotrack/pkg/contextkeys"
	"github.com/platinummonkey/isotrack/pkg/identity"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to unmarshal log entry %q: %v", buf.String(), err)
	}
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

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

		entry := decodeLine(t, &buf)
		if entry["level"] != "INFO" {
			t.Errorf("Expected level INFO, got %v", entry["level"])
		}
		if entry["msg"] != "info message" {
			t.Errorf("Expected message 'info message', got %v", entry["msg"])
		}
	})

	t.Run("warn and error logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Warn("warn message")
		logger.Error("error message")
		if got := strings.Count(buf.String(), "\n"); got != 2 {
			t.Errorf("Expected 2 lines, got %d", got)
		}
	})

	t.Run("error level filters warnings", func(t *testing.T) {
		var quiet bytes.Buffer
		l := NewLogger(ErrorLevel, &quiet)
		l.Warn("ignored")
		if quiet.Len() > 0 {
			t.Error("Warn message should not be logged at Error level")
		}
		if l.Level() != ErrorLevel {
			t.Errorf("Expected ErrorLevel, got %v", l.Level())
		}
	})
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("storage_key", "audit_logs").
		WithFields(map[string]interface{}{"entries": 3}).
		WithError(errors.New("quota exceeded")).
		Info("persisted")

	entry := decodeLine(t, &buf)
	if entry["storage_key"] != "audit_logs" {
		t.Errorf("Expected storage_key field, got %v", entry["storage_key"])
	}
	if entry["entries"] != float64(3) {
		t.Errorf("Expected entries=3, got %v", entry["entries"])
	}
	if entry["error"] != "quota exceeded" {
		t.Errorf("Expected error field, got %v", entry["error"])
	}
}

func TestLogger_WithNilError(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})
	if logger.WithError(nil) != logger {
		t.Error("WithError(nil) should return the same logger")
	}
}

func TestLogger_Formatters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	logger.Debugf("removed %d entries", 4)
	if !strings.Contains(buf.String(), "removed 4 entries") {
		t.Errorf("Debugf output missing: %s", buf.String())
	}

	buf.Reset()
	logger.Errorf("state %s", "degraded_half")
	if !strings.Contains(buf.String(), "state degraded_half") {
		t.Errorf("Errorf output missing: %s", buf.String())
	}
}

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithFormat(InfoLevel, FormatText, &buf)

	logger.WithField("component", "audit_trail").Info("loaded")

	out := buf.String()
	if !strings.Contains(out, "msg=loaded") || !strings.Contains(out, "component=audit_trail") {
		t.Errorf("Unexpected text output: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{" warn ", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"trace", InfoLevel, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLogLevel_String(t *testing.T) {
	if DebugLevel.String() != "DEBUG" || ErrorLevel.String() != "ERROR" {
		t.Error("Unexpected level names")
	}
	if LogLevel(12).String() != "LEVEL(12)" {
		t.Errorf("Unexpected name for unknown level: %s", LogLevel(12).String())
	}
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), base)
	ctx = contextkeys.WithRequestID(ctx, "req-123")
	ctx = identity.WithActor(ctx, identity.Actor{UserID: "u-9"})

	if GetLogger(ctx) != base {
		t.Error("GetLogger should return the stored logger")
	}

	FromContext(ctx).Info("handled")
	entry := decodeLine(t, &buf)

	if entry["request_id"] != "req-123" {
		t.Errorf("Expected request_id, got %v", entry["request_id"])
	}
	if entry["user_id"] != "u-9" {
		t.Errorf("Expected user_id, got %v", entry["user_id"])
	}
	if entry["user_role"] != identity.Anonymous {
		t.Errorf("Expected anonymous role, got %v", entry["user_role"])
	}
}

func TestGetLogger_Default(t *testing.T) {
	if GetLogger(context.Background()) == nil {
		t.Error("Expected a default logger")
	}
}
