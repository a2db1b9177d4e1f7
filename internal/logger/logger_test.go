package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestJSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)
	log.Info("hello", "key", "value")

	output := buf.String()
	if !strings.Contains(output, `"msg":"hello"`) {
		t.Fatalf("expected message in output, got: %s", output)
	}
	if !strings.Contains(output, `"key":"value"`) {
		t.Fatalf("expected key=value in JSON output, got: %s", output)
	}
}

func TestJSONLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelWarn)
	log.Info("should not appear")
	log.Debug("also should not appear")
	if buf.Len() > 0 {
		t.Fatalf("expected no output below warn, got: %s", buf.String())
	}

	log.Warn("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Fatalf("expected warn message in output, got: %s", buf.String())
	}
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	log := Discard()
	log.With("a", 1).WithGroup("g").Error("dropped")
}

func TestSetup(t *testing.T) {
	t.Parallel()

	tests := []struct {
		format string
		want   string
	}{
		{"json", `"msg":"ready"`},
		{"text", "msg=ready"},
		{"pretty", "ready"},
		{"", "ready"},
	}
	for _, tc := range tests {
		var buf bytes.Buffer
		log, err := Setup(Config{Format: tc.format, Level: "debug", Output: &buf})
		if err != nil {
			t.Fatalf("Setup(%q): %v", tc.format, err)
		}
		log.Debug("ready")
		if !strings.Contains(buf.String(), tc.want) {
			t.Errorf("Setup(%q): expected %q in %q", tc.format, tc.want, buf.String())
		}
	}

	if _, err := Setup(Config{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
	if _, err := Setup(Config{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestWith(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo).With("component", "gguf")
	log.Info("child message")

	if !strings.Contains(buf.String(), `"component":"gguf"`) {
		t.Fatalf("expected component attr in output, got: %s", buf.String())
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)

	ctx := WithContext(context.Background(), log)
	FromContext(ctx).Info("roundtrip test")
	if !strings.Contains(buf.String(), "roundtrip test") {
		t.Fatalf("expected message via context logger, got: %s", buf.String())
	}

	// No logger in context must not panic.
	FromContext(context.Background()).Info("nowhere")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"DEBUG", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{" error ", slog.LevelError, false},
		{"unknown", slog.LevelInfo, true},
	}
	for _, tc := range tests {
		got, err := ParseLevel(tc.input)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseLevel(%q): err = %v, wantErr %v", tc.input, err, tc.wantErr)
		}
		if got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func newPretty(buf *bytes.Buffer) *slog.Logger {
	return slog.New(NewPrettyHandler(buf, &PrettyOptions{NoColor: true}))
}

func TestPrettyFormat(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	newPretty(&buf).Info("loaded", "tensors", 3, "path", "/tmp/a b.gguf")

	output := buf.String()
	for _, want := range []string{"INFO  loaded", "tensors=3", `path="/tmp/a b.gguf"`} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in %q", want, output)
		}
	}
	if strings.Contains(output, "\033[") {
		t.Errorf("NoColor output contains escape codes: %q", output)
	}
}

func TestPrettyHandlerEnabled(t *testing.T) {
	t.Parallel()
	h := NewPrettyHandler(&bytes.Buffer{}, &PrettyOptions{Level: slog.LevelWarn})

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info to be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("expected error to be enabled at warn level")
	}
}

func TestPrettyGroups(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := newPretty(&buf).With("file", "x").WithGroup("a").WithGroup("b")
	log.Info("nested", "key", "val", slog.Group("g", "inner", 1))

	output := buf.String()
	for _, want := range []string{"file=x", "a.b.key=val", "a.b.g.inner=1"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in %q", want, output)
		}
	}

	h := NewPrettyHandler(&buf, nil)
	if h.WithGroup("") != slog.Handler(h) {
		t.Fatal("WithGroup empty string should return same handler")
	}
}

func TestNeedsQuoting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected bool
	}{
		{"simple", false},
		{"has space", true},
		{"has\ttab", true},
		{`has"quote`, true},
		{"k=v", true},
		{"", false},
	}
	for _, tc := range tests {
		if got := needsQuoting(tc.input); got != tc.expected {
			t.Errorf("needsQuoting(%q) = %v, want %v", tc.input, got, tc.expected)
		}
	}
}
