package config

import (
	"errors"
	"fmt"
	"slices"
)

// Validate checks the structural validity of a Config against the set of
// registered adapter kinds. It verifies the version field, provider
// uniqueness and kind resolution, and that every fallback reference names a
// declared provider.
func Validate(cfg *Config, kinds []string) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if len(cfg.Providers) == 0 {
		errs = append(errs, errors.New("config: at least one provider must be configured"))
	}

	declared := make(map[string]bool, len(cfg.Providers))
	for i, p := range cfg.Providers {
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("config: providers[%d]: id is required", i))
			continue
		}
		if declared[p.ID] {
			errs = append(errs, fmt.Errorf("config: duplicate provider id %q", p.ID))
		}
		declared[p.ID] = true

		kind := p.Kind
		if kind == "" {
			kind = p.ID
		}
		if !slices.Contains(kinds, kind) {
			errs = append(errs, fmt.Errorf("config: provider %q: unknown kind %q (registered: %v)", p.ID, kind, kinds))
		}

		if p.RateLimit.RequestsPerMinute < 0 || p.RateLimit.TokensPerMinute < 0 || p.RateLimit.MaxConcurrent < 0 {
			errs = append(errs, fmt.Errorf("config: provider %q: rate limits must not be negative", p.ID))
		}
	}

	for _, p := range cfg.Providers {
		for _, fb := range p.Fallbacks {
			if !declared[fb] {
				errs = append(errs, fmt.Errorf("config: provider %q: fallback %q is not declared", p.ID, fb))
			}
		}
	}
	for _, id := range cfg.GlobalFallbackChain {
		if !declared[id] {
			errs = append(errs, fmt.Errorf("config: global_fallback_chain: %q is not declared", id))
		}
	}

	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("config: telemetry.sample_ratio %v must be in [0, 1]", cfg.Telemetry.SampleRatio))
	}

	return errors.Join(errs...)
}
