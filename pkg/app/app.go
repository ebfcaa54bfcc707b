// Package app wires configuration, provider adapters, the usage ledger,
// telemetry, and the HTTP gateway into a runnable process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gantryio/gantry/internal/config"
	"github.com/gantryio/gantry/internal/gateway"
	"github.com/gantryio/gantry/internal/provider"
	"github.com/gantryio/gantry/internal/telemetry"
	"github.com/gantryio/gantry/internal/usage"
	"github.com/gantryio/gantry/modules/provider/anthropic"
	"github.com/gantryio/gantry/modules/provider/openai"
)

// Params configures application construction.
type Params struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string
}

// App owns the wired process components. Construct with New, then Start,
// then Stop on shutdown.
type App struct {
	cfgPath string
	logger  *slog.Logger

	manager  *provider.Manager
	gateway  *gateway.Server
	store    *usage.Store
	pruner   *usage.Pruner
	schedule string

	telemetryShutdown telemetry.ShutdownFunc

	// registered tracks provider ids from the active config so a reload
	// can disable entries that were removed.
	registered map[string]bool
}

// NewRegistry returns the adapter registry with all compiled-in provider
// kinds. Registration is explicit; adapters carry no init-time side effects.
func NewRegistry() *provider.Registry {
	r := provider.NewRegistry()
	anthropic.Register(r)
	openai.Register(r)
	return r
}

// New loads and validates configuration and constructs every component.
// Nothing is listening yet; call Start.
func New(params Params) (*App, error) {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return nil, err
		}
		cfgPath = resolved
	}

	registry := NewRegistry()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg, registry.Kinds()); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	telemetryShutdown, err := telemetry.Setup(context.Background(), cfg.Telemetry, params.Version)
	if err != nil {
		return nil, err
	}

	metricsReg := prometheus.NewRegistry()

	managerOpts := []provider.ManagerOption{
		provider.WithLogger(logger),
		provider.WithMetrics(provider.NewMetrics(metricsReg)),
	}

	var store *usage.Store
	var pruner *usage.Pruner
	if cfg.Usage.Path != "" {
		store, err = usage.Open(cfg.Usage.Path)
		if err != nil {
			return nil, err
		}
		pruner = usage.NewPruner(store, cfg.Usage.Retention, logger)
		managerOpts = append(managerOpts, provider.WithUsageRecorder(store))
	}

	manager, err := provider.NewManager(registry, managerOpts...)
	if err != nil {
		return nil, err
	}

	registered := make(map[string]bool, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		rec, err := pc.ToRecord()
		if err != nil {
			return nil, err
		}
		if err := manager.RegisterProvider(rec); err != nil {
			return nil, fmt.Errorf("register provider %s: %w", pc.ID, err)
		}
		registered[rec.ID] = true
	}
	manager.SetGlobalFallbackChain(cfg.GlobalFallbackChain)

	gatewayOpts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithMetricsRegistry(metricsReg),
	}
	if store != nil {
		gatewayOpts = append(gatewayOpts, gateway.WithUsageSource(store))
	}

	return &App{
		cfgPath:           cfgPath,
		logger:            logger,
		manager:           manager,
		gateway:           gateway.New(cfg.Gateway, manager, gatewayOpts...),
		store:             store,
		pruner:            pruner,
		schedule:          cfg.Usage.PruneSchedule,
		telemetryShutdown: telemetryShutdown,
		registered:        registered,
	}, nil
}

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger { return a.logger }

// Start launches the retention sweep and the HTTP gateway.
func (a *App) Start() error {
	if a.pruner != nil {
		if err := a.pruner.Start(a.schedule); err != nil {
			return err
		}
	}
	return a.gateway.Start()
}

// Stop shuts components down in reverse start order.
func (a *App) Stop(ctx context.Context) error {
	var errs []error

	if err := a.gateway.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.pruner != nil {
		a.pruner.Stop()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.telemetryShutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Reload re-reads the configuration file and applies the provider set and
// the global fallback chain to the running manager. Providers removed from
// the file are disabled, not forgotten; gateway, ledger, and telemetry
// settings require a restart.
func (a *App) Reload() error {
	registry := NewRegistry()

	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg, registry.Kinds()); err != nil {
		return err
	}

	current := make(map[string]bool, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		rec, err := pc.ToRecord()
		if err != nil {
			return err
		}
		if err := a.manager.RegisterProvider(rec); err != nil {
			return fmt.Errorf("register provider %s: %w", pc.ID, err)
		}
		current[rec.ID] = true
	}

	for id := range a.registered {
		if !current[id] {
			if err := a.manager.SetEnabled(id, false); err != nil {
				return err
			}
			a.logger.Info("provider removed from config, disabled", "provider", id)
		}
	}

	a.manager.SetGlobalFallbackChain(cfg.GlobalFallbackChain)
	a.registered = current
	a.logger.Info("configuration reloaded", "providers", len(current))
	return nil
}

// NewLogger builds a slog logger from the log section.
func NewLogger(cfg config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("config: unknown log level %q", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch cfg.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("config: unknown log format %q", cfg.Format)
	}
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/gantry/gantry.yaml →
// ~/.config/gantry/gantry.yaml → ./gantry.yaml
func ResolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "gantry", "gantry.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "gantry", "gantry.yaml"))
	}

	candidates = append(candidates, "gantry.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}
