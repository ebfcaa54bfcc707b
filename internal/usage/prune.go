package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner runs the retention sweep on a cron schedule.
type Pruner struct {
	store     *Store
	retention time.Duration
	logger    *slog.Logger
	cron      *cron.Cron
}

// NewPruner creates a pruner deleting entries older than retention.
func NewPruner(store *Store, retention time.Duration, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{store: store, retention: retention, logger: logger}
}

// Start schedules the sweep with the given cron expression (standard
// five-field format) and begins running it.
func (p *Pruner) Start(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	p.cron = cron.New(cron.WithParser(parser))

	if _, err := p.cron.AddFunc(schedule, func() {
		if err := p.RunOnce(context.Background()); err != nil {
			p.logger.Error("usage prune failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("usage: invalid prune schedule %q: %w", schedule, err)
	}

	p.cron.Start()
	return nil
}

// Stop halts the schedule, waiting for a running sweep to finish.
func (p *Pruner) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
}

// RunOnce performs a single retention sweep.
func (p *Pruner) RunOnce(ctx context.Context) error {
	cutoff := p.store.now().Add(-p.retention)
	deleted, err := p.store.Prune(ctx, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		p.logger.Info("usage entries pruned", "deleted", deleted, "cutoff", cutoff.UTC().Format(time.RFC3339))
	}
	return nil
}
