package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestWith_TagsComponent(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Output: &buf})
	t.Cleanup(func() { Init(Config{}) })

	With("sync").Info().Str("user_id", "user-1").Msg("started")
	child := With("sync").With().Str("account", "a@example.com").Logger()
	child.Warn().Msg("retrying")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %q", buf.String())
	}
	if !strings.Contains(lines[0], `"component":"sync"`) || !strings.Contains(lines[0], `"user_id":"user-1"`) {
		t.Fatalf("unexpected first line %q", lines[0])
	}
	if !strings.Contains(lines[1], `"component":"sync"`) || !strings.Contains(lines[1], `"account":"a@example.com"`) {
		t.Fatalf("unexpected second line %q", lines[1])
	}
}

func TestInit_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Output: &buf})
	t.Cleanup(func() { Init(Config{}) })

	Info().Msg("hidden")
	Warn().Msg("shown")

	if out := buf.String(); strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("unexpected output %q", out)
	}
}
