package config

import (
	"strings"
	"testing"

	"github.com/gantryio/gantry/internal/provider"
)

var testKinds = []string{"anthropic", "openai"}

func validConfig() *Config {
	return &Config{
		Version: "1",
		Providers: []ProviderConfig{
			{Record: provider.Record{ID: "anthropic", Enabled: true}},
			{Record: provider.Record{ID: "backup", Kind: "openai", Enabled: true}},
		},
		GlobalFallbackChain: []string{"backup"},
	}
}

func TestValidate_OK(t *testing.T) {
	if err := Validate(validConfig(), testKinds); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidate_Version(t *testing.T) {
	cfg := validConfig()
	cfg.Version = ""
	if err := Validate(cfg, testKinds); err == nil || !strings.Contains(err.Error(), "version") {
		t.Fatalf("missing version not rejected: %v", err)
	}

	cfg.Version = "2"
	if err := Validate(cfg, testKinds); err == nil || !strings.Contains(err.Error(), "unsupported version") {
		t.Fatalf("unsupported version not rejected: %v", err)
	}
}

func TestValidate_NoProviders(t *testing.T) {
	cfg := &Config{Version: "1"}
	if err := Validate(cfg, testKinds); err == nil || !strings.Contains(err.Error(), "at least one provider") {
		t.Fatalf("empty provider list not rejected: %v", err)
	}
}

func TestValidate_DuplicateAndUnknown(t *testing.T) {
	cfg := validConfig()
	cfg.Providers = append(cfg.Providers, ProviderConfig{Record: provider.Record{ID: "anthropic"}})
	err := Validate(cfg, testKinds)
	if err == nil || !strings.Contains(err.Error(), "duplicate provider id") {
		t.Fatalf("duplicate id not rejected: %v", err)
	}

	cfg = validConfig()
	cfg.Providers[0].Record.Kind = "ghost"
	if err := Validate(cfg, testKinds); err == nil || !strings.Contains(err.Error(), "unknown kind") {
		t.Fatalf("unknown kind not rejected: %v", err)
	}
}

func TestValidate_KindDefaultsToID(t *testing.T) {
	cfg := validConfig()
	cfg.Providers[0].Record.ID = "mystery"
	if err := Validate(cfg, testKinds); err == nil || !strings.Contains(err.Error(), "unknown kind") {
		t.Fatalf("id-as-kind fallthrough not checked: %v", err)
	}
}

func TestValidate_FallbackReferences(t *testing.T) {
	cfg := validConfig()
	cfg.Providers[0].Record.Fallbacks = []string{"ghost"}
	if err := Validate(cfg, testKinds); err == nil || !strings.Contains(err.Error(), `fallback "ghost"`) {
		t.Fatalf("undeclared fallback not rejected: %v", err)
	}

	cfg = validConfig()
	cfg.GlobalFallbackChain = []string{"ghost"}
	if err := Validate(cfg, testKinds); err == nil || !strings.Contains(err.Error(), "global_fallback_chain") {
		t.Fatalf("undeclared global fallback not rejected: %v", err)
	}
}

func TestValidate_SampleRatioBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Telemetry.SampleRatio = 1.5
	if err := Validate(cfg, testKinds); err == nil || !strings.Contains(err.Error(), "sample_ratio") {
		t.Fatalf("out-of-range sample ratio not rejected: %v", err)
	}
}

func TestToRecord_CredentialResolution(t *testing.T) {
	p := ProviderConfig{
		Record: provider.Record{ID: "a", Kind: "anthropic"},
		APIKey: "inline-key",
	}
	rec, err := p.ToRecord()
	if err != nil {
		t.Fatalf("ToRecord: %v", err)
	}
	if rec.Credentials.APIKey != "inline-key" {
		t.Errorf("api key = %q", rec.Credentials.APIKey)
	}

	t.Setenv("CUSTOM_KEY", "env-key")
	p = ProviderConfig{Record: provider.Record{ID: "a"}, APIKeyEnv: "CUSTOM_KEY", BaseURL: "http://local"}
	rec, err = p.ToRecord()
	if err != nil {
		t.Fatalf("ToRecord: %v", err)
	}
	if rec.Credentials.APIKey != "env-key" || rec.Credentials.BaseURL != "http://local" {
		t.Errorf("credentials = %+v", rec.Credentials)
	}

	p = ProviderConfig{Record: provider.Record{ID: "a"}, APIKeyEnv: "DEFINITELY_UNSET_VAR"}
	if _, err := p.ToRecord(); err == nil {
		t.Fatal("missing named env var not rejected")
	}

	t.Setenv("OPENAI_API_KEY", "conventional")
	p = ProviderConfig{Record: provider.Record{ID: "primary", Kind: "openai"}}
	rec, err = p.ToRecord()
	if err != nil {
		t.Fatalf("ToRecord: %v", err)
	}
	if rec.Credentials.APIKey != "conventional" {
		t.Errorf("conventional env lookup got %q", rec.Credentials.APIKey)
	}
}
