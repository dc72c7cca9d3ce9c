package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"ballotbox/internal/platform/config"

	"github.com/spf13/viper"
)

func TestPromptIntRetriesUntilValid(t *testing.T) {
	var out bytes.Buffer
	got, err := PromptInt(strings.NewReader("abc\n-3\n 12 \n"), &out, "Machine ID")
	if err != nil {
		t.Fatalf("prompt: %v", err)
	}
	if got != 12 {
		t.Fatalf("expected 12, got %d", got)
	}
	if strings.Count(out.String(), "must be a non-negative integer") != 2 {
		t.Fatalf("expected two rejections, got %q", out.String())
	}
}

func TestPromptIntFailsOnEOF(t *testing.T) {
	if _, err := PromptInt(strings.NewReader("x"), &bytes.Buffer{}, "Election ID"); err == nil {
		t.Fatalf("expected error on exhausted input")
	}
}

func TestNewCommandBindsDebugFlag(t *testing.T) {
	v := config.NewViper()
	var seen config.Config
	cmd := NewCommand("ballotbox-test", "test command", v, func(_ context.Context, _ *viper.Viper, cfg config.Config) error {
		seen = cfg
		return nil
	})
	cmd.SetArgs([]string{"--debug"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !seen.Debug {
		t.Fatalf("expected --debug to reach config")
	}
}
