// Package main is the entry point for the gantry CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/gantryio/gantry/internal/config"
	"github.com/gantryio/gantry/pkg/app"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gantry",
		Short:         "LLM provider orchestration gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(versionCmd(), startCmd(), configCmd(), serviceCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled provider kinds",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("gantry %s (commit: %s, built: %s)\n", version, commit, date)
			fmt.Println("\nProvider kinds:")
			for _, kind := range app.NewRegistry().Kinds() {
				fmt.Printf("  %s\n", kind)
			}
		},
	}
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the gateway with all configured providers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			return app.Run(app.Params{
				ConfigPath: cfgPath,
				Version:    version,
				Commit:     commit,
				Date:       date,
			})
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <path>",
		Short: "Validate configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if err := config.Validate(cfg, app.NewRegistry().Kinds()); err != nil {
				return err
			}

			fmt.Printf("Configuration OK (%d providers)\n", len(cfg.Providers))
			for _, p := range cfg.Providers {
				state := "enabled"
				if !p.Enabled {
					state = "disabled"
				}
				fmt.Printf("  %s (%s, %s)\n", p.ID, p.Kind, state)
			}
			return nil
		},
	})
	return cmd
}

// program adapts the application to the system service manager. Start must
// not block; the gateway serves in the background.
type program struct {
	params app.Params
	app    *app.App
}

func (p *program) Start(service.Service) error {
	a, err := app.New(p.params)
	if err != nil {
		return err
	}
	p.app = a
	return a.Start()
}

func (p *program) Stop(service.Service) error {
	if p.app == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return p.app.Stop(ctx)
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "service <install|uninstall|start|stop|run>",
		Short:     "Manage gantry as a system service",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"install", "uninstall", "start", "stop", "run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")

			svcConfig := &service.Config{
				Name:        "gantry",
				DisplayName: "gantry",
				Description: "LLM provider orchestration gateway",
				Arguments:   []string{"service", "run"},
			}
			if cfgPath != "" {
				svcConfig.Arguments = append(svcConfig.Arguments, "--config", cfgPath)
			}

			prg := &program{params: app.Params{
				ConfigPath: cfgPath,
				Version:    version,
				Commit:     commit,
				Date:       date,
			}}

			svc, err := service.New(prg, svcConfig)
			if err != nil {
				return err
			}

			action := strings.ToLower(args[0])
			switch action {
			case "run":
				return svc.Run()
			case "install", "uninstall", "start", "stop":
				if err := service.Control(svc, action); err != nil {
					return err
				}
				fmt.Printf("service %s: ok\n", action)
				return nil
			default:
				return fmt.Errorf("unknown service action %q", action)
			}
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	return cmd
}
