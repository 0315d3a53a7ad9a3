package reader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lanegate/server/internal/clock"
	"github.com/lanegate/server/internal/lanegate/types"
	"github.com/lanegate/server/internal/metrics"
)

// WorkerConfig holds the polling and reconnect parameters shared by all
// reader workers.
type WorkerConfig struct {
	PollInterval  time.Duration
	ProbeInterval time.Duration

	// MaxConnectionAttempts is how many connects are tried, with
	// exponential backoff between them, before the reader is marked
	// offline.  An offline reader tries again after OfflineRetry.
	MaxConnectionAttempts int
	BackoffBase           time.Duration
	BackoffMax            time.Duration
	OfflineRetry          time.Duration

	// BufferClearThreshold is the most unique tags a single poll may
	// return before it is treated as buffer buildup.
	BufferClearThreshold int
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 50 * time.Millisecond
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 30 * time.Second
	}
	if c.MaxConnectionAttempts <= 0 {
		c.MaxConnectionAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = 30 * time.Second
	}
	if c.OfflineRetry <= 0 {
		c.OfflineRetry = 60 * time.Second
	}
	if c.BufferClearThreshold <= 0 {
		c.BufferClearThreshold = 5
	}
	return c
}

// Worker owns one reader connection.  It is a pure producer: every
// unique tag of a poll is sent on out, and nothing else in the engine is
// touched except the health registry.
//
// State machine: Disconnected → Connecting → Connected ⇄ Polling, with
// Offline after MaxConnectionAttempts consecutive connect failures.
type Worker struct {
	ep     Endpoint
	dev    Device
	cfg    WorkerConfig
	out    chan<- types.TagRead
	health *Registry
	clk    clock.Clock
	logger *zap.Logger

	clearReq chan struct{}
}

func NewWorker(ep Endpoint, dev Device, cfg WorkerConfig, out chan<- types.TagRead, health *Registry, clk clock.Clock, logger *zap.Logger) *Worker {
	if clk == nil {
		clk = clock.Real()
	}
	if health == nil {
		health = NewRegistry(clk)
	}
	health.Register(ep)

	return &Worker{
		ep:       ep,
		dev:      dev,
		cfg:      cfg.withDefaults(),
		out:      out,
		health:   health,
		clk:      clk,
		logger:   logger.With(zap.Int("reader_id", ep.ReaderID), zap.Int("lane_id", ep.LaneID)),
		clearReq: make(chan struct{}, 1),
	}
}

func (w *Worker) ReaderID() int { return w.ep.ReaderID }

// RequestClear asks the worker to clear the hardware buffer before its
// next poll.  Never blocks; repeated requests coalesce.
func (w *Worker) RequestClear() bool {
	select {
	case w.clearReq <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run drives the state machine until ctx is cancelled, then disconnects.
func (w *Worker) Run(ctx context.Context) {
	defer w.shutdown()

	w.logger.Info("reader worker started", zap.String("address", w.ep.Address))

	for ctx.Err() == nil {
		if err := w.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.setState(types.ReaderOffline, nil)
			w.logger.Error("reader offline",
				zap.Int("attempts", w.cfg.MaxConnectionAttempts),
				zap.Duration("retry_in", w.cfg.OfflineRetry),
				zap.Error(err))
			if !w.sleep(ctx, w.cfg.OfflineRetry) {
				return
			}
			continue
		}

		err := w.pollLoop(ctx)
		if ctx.Err() != nil {
			return
		}
		w.logger.Warn("reader connection lost", zap.Error(err))
		_ = w.dev.Disconnect()
		w.setState(types.ReaderDisconnected, err)
	}
}

// connect tries up to MaxConnectionAttempts times with exponential
// backoff and returns the last error when all fail.
func (w *Worker) connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxConnectionAttempts; attempt++ {
		if attempt > 1 {
			if !w.sleep(ctx, w.backoff(attempt-1)) {
				return ctx.Err()
			}
		}

		w.health.SetAttempts(w.ep.ReaderID, attempt)
		w.setState(types.ReaderConnecting, nil)

		err := w.dev.Connect(ctx)
		if err == nil {
			w.health.SetAttempts(w.ep.ReaderID, 0)
			w.setState(types.ReaderConnected, nil)
			w.logger.Info("reader connected", zap.Int("attempt", attempt))
			return nil
		}

		lastErr = &ConnectionError{ReaderID: w.ep.ReaderID, Attempt: attempt, Err: err}
		metrics.RecordConnectFailure(w.ep.ReaderID)
		w.setState(types.ReaderDisconnected, lastErr)
		w.logger.Warn("reader connect failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", w.cfg.MaxConnectionAttempts),
			zap.Error(err))
	}
	return lastErr
}

// backoff returns BackoffBase doubled per retry, capped at BackoffMax.
func (w *Worker) backoff(retry int) time.Duration {
	d := w.cfg.BackoffBase
	for i := 1; i < retry && d < w.cfg.BackoffMax; i++ {
		d *= 2
	}
	if d > w.cfg.BackoffMax {
		d = w.cfg.BackoffMax
	}
	return d
}

// pollLoop runs while the connection is healthy and returns the error
// that ended it.
func (w *Worker) pollLoop(ctx context.Context) error {
	poll := w.clk.NewTicker(w.cfg.PollInterval)
	defer poll.Stop()
	probe := w.clk.NewTicker(w.cfg.ProbeInterval)
	defer probe.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-w.clearReq:
			if err := w.clearBuffer(ctx, "requested"); err != nil {
				return err
			}

		case <-probe.C:
			if err := w.dev.Probe(ctx); err != nil {
				return fmt.Errorf("liveness probe: %w", err)
			}
			w.logger.Debug("reader probe ok")

		case <-poll.C:
			if err := w.pollOnce(ctx); err != nil {
				return err
			}
		}
	}
}

func (w *Worker) pollOnce(ctx context.Context) error {
	w.setState(types.ReaderPolling, nil)
	defer w.setState(types.ReaderConnected, nil)

	tags, err := w.dev.ReadTags(ctx)
	if errors.Is(err, ErrMalformedBuffer) {
		w.logger.Warn("discarding malformed tag buffer", zap.Error(err))
		return w.clearBuffer(ctx, "malformed")
	}
	if err != nil {
		return err
	}
	tags = uniqueTags(tags)

	if len(tags) > w.cfg.BufferClearThreshold {
		w.logger.Warn("too many unique tags in one poll, clearing buffer",
			zap.Error(fmt.Errorf("%w: %d unique tags", ErrBufferOverflow, len(tags))),
			zap.Int("threshold", w.cfg.BufferClearThreshold))
		return w.clearBuffer(ctx, "overflow")
	}

	now := w.clk.Now()
	for _, t := range tags {
		read := types.TagRead{
			TagID:      t.EPC,
			TagType:    t.Type,
			ReaderID:   w.ep.ReaderID,
			LaneID:     w.ep.LaneID,
			DeviceID:   w.ep.DeviceID,
			Antenna:    t.Antenna,
			RSSI:       t.RSSI,
			ObservedAt: now,
		}
		w.logger.Debug("tag read",
			zap.String("tag_id", read.TagID),
			zap.Int("antenna", read.Antenna),
			zap.Int("rssi", read.RSSI))
		metrics.RecordTagRead(w.ep.ReaderID)
		w.health.MarkEvent(w.ep.ReaderID, now)

		select {
		case w.out <- read:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// uniqueTags keeps the first sighting of each EPC.
func uniqueTags(tags []Tag) []Tag {
	seen := make(map[string]struct{}, len(tags))
	out := tags[:0]
	for _, t := range tags {
		if _, dup := seen[t.EPC]; dup {
			continue
		}
		seen[t.EPC] = struct{}{}
		out = append(out, t)
	}
	return out
}

func (w *Worker) clearBuffer(ctx context.Context, reason string) error {
	if err := w.dev.ClearBuffer(ctx); err != nil {
		return fmt.Errorf("clear buffer (%s): %w", reason, err)
	}
	metrics.RecordBufferClear(w.ep.ReaderID, reason)
	w.logger.Debug("reader buffer cleared", zap.String("reason", reason))
	return nil
}

func (w *Worker) setState(s types.ReaderState, err error) {
	w.health.SetState(w.ep.ReaderID, s, err)
}

// sleep waits d or until ctx is done; it reports whether d elapsed.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-w.clk.After(d):
		return true
	}
}

func (w *Worker) shutdown() {
	if err := w.dev.Disconnect(); err != nil {
		w.logger.Warn("reader disconnect error", zap.Error(err))
	}
	w.setState(types.ReaderDisconnected, nil)
	w.logger.Info("reader worker stopped")
}
