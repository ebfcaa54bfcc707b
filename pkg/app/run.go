package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// shutdownTimeout bounds graceful teardown on a shutdown signal.
const shutdownTimeout = 30 * time.Second

// Run constructs the application, starts it, and blocks until a shutdown
// signal arrives. SIGHUP triggers a live configuration reload.
func Run(params Params) error {
	a, err := New(params)
	if err != nil {
		return err
	}

	if err := a.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		sig := <-sigCh
		switch sig {
		case syscall.SIGHUP:
			a.logger.Info("SIGHUP received, reloading configuration")
			if err := a.Reload(); err != nil {
				a.logger.Error("reload failed", "error", err)
			}
		default:
			a.logger.Info("shutdown signal received", "signal", sig.String())
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := a.Stop(ctx); err != nil {
				return err
			}
			a.logger.Info("shutdown complete")
			return nil
		}
	}
}
