package observability

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TestParseLogLevel verifies that parseLogLevel correctly parses log level
// strings from environment variables, handling case-insensitivity and whitespace.
func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		env    string
		expect zapcore.Level
	}{
		{"", zap.InfoLevel},
		{"INFO", zap.InfoLevel},
		{"DEBUG", zap.DebugLevel},
		{"WARN", zap.WarnLevel},
		{"ERROR", zap.ErrorLevel},
		{"debug", zap.DebugLevel},
		{"  warn  ", zap.WarnLevel},
		{"invalid", zap.InfoLevel},
	}
	for _, tt := range tests {
		level := parseLogLevel(tt.env)
		if got := level.Level(); got != tt.expect {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.env, got, tt.expect)
		}
	}
}

// TestNewLogger verifies that NewLogger creates a valid logger instance
// that can be used for logging operations.
func TestNewLogger(t *testing.T) {
	logger, err := NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if logger == nil {
		t.Fatal("NewLogger() returned nil logger")
	}

	logger.Info("test message")
	_ = logger.Sync() // best-effort; can fail on /dev/stderr in test env
}

// TestNewLogger_ConsoleFormat verifies that LOG_FORMAT=console still builds a usable logger.
func TestNewLogger_ConsoleFormat(t *testing.T) {
	t.Setenv("LOG_FORMAT", "console")
	logger, err := NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	logger.Debug("hidden at info level")
	_ = logger.Sync()
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// TestFlushTelemetry_ClosesAll verifies that every closer runs and failures are joined.
func TestFlushTelemetry_ClosesAll(t *testing.T) {
	closed := 0
	ok := closerFunc(func() error { closed++; return nil })
	bad := closerFunc(func() error { closed++; return errors.New("broker gone") })

	err := FlushTelemetry(context.Background(), zap.NewNop(), ok, nil, bad)
	if closed != 2 {
		t.Errorf("closed = %d, want 2", closed)
	}
	if err == nil || !strings.Contains(err.Error(), "broker gone") {
		t.Errorf("FlushTelemetry() error = %v, want broker gone", err)
	}
}

// TestFlushTelemetry_CancelledContext verifies that a cancelled context stops closing.
func TestFlushTelemetry_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := FlushTelemetry(ctx, nil, closerFunc(func() error { called = true; return nil }))
	if called {
		t.Error("closer called after cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("FlushTelemetry() error = %v, want context.Canceled", err)
	}
}
