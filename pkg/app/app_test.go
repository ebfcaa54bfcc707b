package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gantryio/gantry/internal/config"
)

func writeAppConfig(t *testing.T, dir, providers string) string {
	t.Helper()
	content := `
version: "1"
providers:
` + providers + `
gateway:
  bind: 127.0.0.1:0
usage:
  path: ` + filepath.Join(dir, "usage.db") + `
log:
  level: error
`
	path := filepath.Join(dir, "gantry.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const twoProviders = `
  - id: anthropic-main
    kind: anthropic
    model: claude-sonnet-4-5-20250929
    api_key: sk-test
    enabled: true
    priority: 10
  - id: openai-backup
    kind: openai
    model: gpt-4o
    api_key: sk-test
    enabled: true
`

func TestNew_BuildsAndRuns(t *testing.T) {
	dir := t.TempDir()
	path := writeAppConfig(t, dir, twoProviders)

	a, err := New(Params{ConfigPath: path, Version: "test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	snap := a.manager.Snapshot()
	if len(snap) != 2 || snap[0].ID != "anthropic-main" || snap[1].ID != "openai-backup" {
		t.Fatalf("snapshot = %+v", snap)
	}

	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestNew_UnknownKindFails(t *testing.T) {
	dir := t.TempDir()
	path := writeAppConfig(t, dir, `
  - id: mystery
    kind: mystery
    api_key: k
    enabled: true
`)

	if _, err := New(Params{ConfigPath: path}); err == nil {
		t.Fatal("unknown kind accepted")
	}
}

func TestReload_DisablesRemovedProviders(t *testing.T) {
	dir := t.TempDir()
	path := writeAppConfig(t, dir, twoProviders)

	a, err := New(Params{ConfigPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx)
	})

	writeAppConfig(t, dir, `
  - id: anthropic-main
    kind: anthropic
    model: claude-sonnet-4-5-20250929
    api_key: sk-test
    enabled: true
`)
	if err := a.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	for _, p := range a.manager.Snapshot() {
		switch p.ID {
		case "anthropic-main":
			if !p.Enabled {
				t.Errorf("anthropic-main disabled after reload")
			}
		case "openai-backup":
			if p.Enabled {
				t.Errorf("openai-backup still enabled after removal")
			}
		}
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := NewLogger(config.LogConfig{Level: "debug", Format: "json"}); err != nil {
		t.Errorf("debug/json: %v", err)
	}
	if _, err := NewLogger(config.LogConfig{}); err != nil {
		t.Errorf("zero config: %v", err)
	}
	if _, err := NewLogger(config.LogConfig{Level: "loud"}); err == nil {
		t.Error("unknown level accepted")
	}
	if _, err := NewLogger(config.LogConfig{Format: "xml"}); err == nil {
		t.Error("unknown format accepted")
	}
}

func TestResolveConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	if _, err := ResolveConfigPath(); err == nil {
		t.Fatal("missing config resolved")
	}

	cfgDir := filepath.Join(dir, "gantry")
	if err := os.MkdirAll(cfgDir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	want := filepath.Join(cfgDir, "gantry.yaml")
	if err := os.WriteFile(want, []byte("version: \"1\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ResolveConfigPath()
	if err != nil {
		t.Fatalf("ResolveConfigPath: %v", err)
	}
	if !strings.HasSuffix(got, filepath.Join("gantry", "gantry.yaml")) {
		t.Errorf("resolved = %q", got)
	}
}
