package log

import (
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf strings.Builder
	l := New(WithOutput(&buf), WithLevel(LevelWarn))

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("visible warn")
	l.Error("visible error")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("low-level messages leaked: %q", out)
	}
	if !strings.Contains(out, "visible warn") || !strings.Contains(out, "visible error") {
		t.Errorf("expected warn and error output, got %q", out)
	}
}

func TestLoggerFields(t *testing.T) {
	var buf strings.Builder
	l := New(WithOutput(&buf), WithLevel(LevelDebug))

	child := l.WithField("node", 42).WithFields(map[string]any{"kind": "CREATE"})
	child.Info("applied")

	out := buf.String()
	if !strings.Contains(out, "node=42") || !strings.Contains(out, "kind=CREATE") {
		t.Errorf("fields missing from output: %q", out)
	}

	// Parent is unaffected by child fields.
	buf.Reset()
	l.Info("plain")
	if strings.Contains(buf.String(), "node=") {
		t.Errorf("parent logger gained child fields: %q", buf.String())
	}
}

func TestDiscard(t *testing.T) {
	// Must not panic and must swallow everything.
	l := Discard()
	l.Error("nothing")
}
