package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v want %v", in, got, want)
		}
	}
}

func TestNewJSONAndSet(t *testing.T) {
	var buf bytes.Buffer
	prev := L()
	t.Cleanup(func() { Set(prev) })

	Set(New("json", slog.LevelDebug, &buf))
	Set(nil) // ignored
	Component("pipeline").Debug("frame_rx", "channel", 1)
	out := buf.String()
	if !strings.Contains(out, `"component":"pipeline"`) || !strings.Contains(out, `"msg":"frame_rx"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
}
