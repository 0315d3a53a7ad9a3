package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lanegate/server/internal/clock"
	"github.com/lanegate/server/internal/lanegate/store"
)

// LogPruner periodically deletes access and barrier audit rows older than
// a configurable retention period.  It runs as a background goroutine and
// is safe to stop via its context or the Stop method.
//
// A retention of 0 disables pruning entirely.
type LogPruner struct {
	store     store.RetentionStore
	retention time.Duration
	interval  time.Duration
	clk       clock.Clock
	logger    *zap.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

// PrunerConfig holds the parameters for NewLogPruner.
type PrunerConfig struct {
	// RetentionDays is how many days of audit history to keep.
	// 0 means keep everything (pruner will not start).
	RetentionDays int

	// IntervalHours is how often the pruner runs.  Defaults to 6.
	IntervalHours int
}

// NewLogPruner creates a pruner but does not start it.
func NewLogPruner(s store.RetentionStore, cfg PrunerConfig, clk clock.Clock, logger *zap.Logger) *LogPruner {
	interval := time.Duration(cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if clk == nil {
		clk = clock.Real()
	}

	return &LogPruner{
		store:     s,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval:  interval,
		clk:       clk,
		logger:    logger.Named("log_pruner"),
		done:      make(chan struct{}),
	}
}

// Start runs an immediate prune, then repeats on the configured interval
// until ctx is cancelled or Stop is called.
func (p *LogPruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		p.logger.Info("log pruner disabled (retention=0)")
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)

	go p.loop(ctx)

	p.logger.Info("log pruner started",
		zap.Int("retention_days", int(p.retention.Hours()/24)),
		zap.Duration("interval", p.interval))
}

// Stop signals the pruner to exit and waits for it to finish.
func (p *LogPruner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

func (p *LogPruner) loop(ctx context.Context) {
	defer close(p.done)

	// Clean up any backlog first.
	p.prune(ctx)

	ticker := p.clk.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *LogPruner) prune(ctx context.Context) {
	cutoff := p.clk.Now().UTC().Add(-p.retention)
	deleted, err := p.store.PruneOlderThan(ctx, cutoff)
	if err != nil {
		p.logger.Error("audit prune failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		p.logger.Info("audit rows pruned",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff))
	}
}
