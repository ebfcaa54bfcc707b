// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for gantry.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gantryio/gantry/internal/provider"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// Providers lists the upstream provider records to register.
	Providers []ProviderConfig `yaml:"providers"`

	// GlobalFallbackChain is the shared ordered fallback list consulted
	// after a request's own fallbacks.
	GlobalFallbackChain []string `yaml:"global_fallback_chain,omitempty"`

	Gateway   GatewayConfig   `yaml:"gateway"`
	Usage     UsageConfig     `yaml:"usage"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// ProviderConfig is one provider entry. The embedded record carries routing,
// rate, retry, and health settings; credentials are declared alongside and
// resolved into the record before registration.
type ProviderConfig struct {
	provider.Record `yaml:",inline"`

	APIKey    string `yaml:"api_key,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
	BaseURL   string `yaml:"base_url,omitempty"`
}

// ToRecord resolves credentials and returns the registration-ready record.
// Key resolution order: explicit api_key, the named api_key_env variable,
// then the conventional <KIND>_API_KEY variable.
func (p ProviderConfig) ToRecord() (provider.Record, error) {
	rec := p.Record
	rec.Credentials.BaseURL = p.BaseURL

	switch {
	case p.APIKey != "":
		rec.Credentials.APIKey = p.APIKey
	case p.APIKeyEnv != "":
		key, ok := os.LookupEnv(p.APIKeyEnv)
		if !ok {
			return rec, fmt.Errorf("config: provider %s: env %s is not set", p.ID, p.APIKeyEnv)
		}
		rec.Credentials.APIKey = key
	default:
		kind := rec.Kind
		if kind == "" {
			kind = rec.ID
		}
		env := strings.ToUpper(strings.ReplaceAll(kind, "-", "_")) + "_API_KEY"
		rec.Credentials.APIKey = os.Getenv(env)
	}

	return rec, nil
}

// GatewayConfig holds HTTP gateway settings.
type GatewayConfig struct {
	Bind            string        `yaml:"bind"`
	BearerToken     string        `yaml:"bearer_token,omitempty"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Defaults fills zero values with sensible defaults.
func (c *GatewayConfig) Defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	// Streaming responses stay open well past a typical write timeout.
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Minute
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// UsageConfig holds the token usage ledger settings.
type UsageConfig struct {
	// Path is the SQLite database file. Empty disables the ledger.
	Path string `yaml:"path,omitempty"`

	// Retention bounds how long usage rows are kept.
	Retention time.Duration `yaml:"retention"`

	// PruneSchedule is a cron expression for the retention sweep.
	PruneSchedule string `yaml:"prune_schedule"`
}

// Defaults fills zero values with sensible defaults.
func (c *UsageConfig) Defaults() {
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	if c.PruneSchedule == "" {
		c.PruneSchedule = "0 3 * * *"
	}
}

// TelemetryConfig holds OpenTelemetry trace export settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the OTLP/HTTP collector address. Empty disables
	// trace export.
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`

	// SampleRatio is the trace sampling ratio in [0, 1]. Zero defaults
	// to sampling everything when an endpoint is set.
	SampleRatio float64 `yaml:"sample_ratio,omitempty"`

	// Insecure disables TLS toward the collector.
	Insecure bool `yaml:"insecure,omitempty"`
}

// LogConfig controls structured log output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// Defaults fills zero values with sensible defaults.
func (c *LogConfig) Defaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}
