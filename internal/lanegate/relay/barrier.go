package relay

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lanegate/server/internal/clock"
	"github.com/lanegate/server/internal/lanegate/types"
	"github.com/lanegate/server/internal/metrics"
)

// EventSink receives barrier audit events.  Implementations must not
// block; the async log writer is the production sink.
type EventSink interface {
	EnqueueBarrierEvent(ev types.BarrierEvent) error
}

// CycleRequest describes one open cycle.  Empty Channels means all.
type CycleRequest struct {
	Channels []int
	User     string
	LaneID   int
	ReaderID int
	Source   types.BarrierSource
}

// Barrier is the single owner of the relay board.  Cycles from automated
// grants and from the manual API queue on the same mutex, so at most one
// cycle is ever in flight.
type Barrier struct {
	act    Actuator
	hold   time.Duration
	sink   EventSink
	clk    clock.Clock
	logger *zap.Logger

	mu sync.Mutex
}

// NewBarrier forces every channel off before returning.  Failure to do so
// wraps ErrActuatorInit.
func NewBarrier(act Actuator, hold time.Duration, sink EventSink, clk clock.Clock, logger *zap.Logger) (*Barrier, error) {
	if hold <= 0 {
		hold = 2 * time.Second
	}
	if clk == nil {
		clk = clock.Real()
	}
	if err := act.AllOff(); err != nil {
		return nil, fmt.Errorf("%w: all-off at startup: %w", ErrActuatorInit, err)
	}

	logger = logger.Named("barrier")
	logger.Info("relay channels forced off", zap.Int("channels", act.Channels()), zap.Duration("hold", hold))

	return &Barrier{
		act:    act,
		hold:   hold,
		sink:   sink,
		clk:    clk,
		logger: logger,
	}, nil
}

func (b *Barrier) Channels() int { return b.act.Channels() }

// Resolve validates channels and returns them sorted without duplicates.
// Empty input means every channel.
func (b *Barrier) Resolve(channels []int) ([]int, error) {
	n := b.act.Channels()
	if len(channels) == 0 {
		all := make([]int, n)
		for i := range all {
			all[i] = i + 1
		}
		return all, nil
	}
	if err := checkChannels(n, channels); err != nil {
		return nil, err
	}
	out := slices.Clone(channels)
	slices.Sort(out)
	return slices.Compact(out), nil
}

// Cycle asserts the requested channels, holds them for the configured
// duration and deasserts them.  It blocks for the whole hold and waits
// for any cycle already in progress.  Cancelling ctx shortens the hold
// but never skips the close.
func (b *Barrier) Cycle(ctx context.Context, req CycleRequest) ([]int, error) {
	channels, err := b.Resolve(req.Channels)
	if err != nil {
		return nil, err
	}
	if req.Source == "" {
		req.Source = types.SourceAuto
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.act.Open(channels); err != nil {
		b.forceOff("open failed")
		metrics.RecordBarrierCycle(string(req.Source), "error")
		return nil, fmt.Errorf("open channels %v: %w", channels, err)
	}
	b.record(req, channels, types.BarrierOpened)
	b.logger.Info("barrier opened",
		zap.Ints("channels", channels),
		zap.String("source", string(req.Source)),
		zap.String("user", req.User),
		zap.Int("lane_id", req.LaneID))

	select {
	case <-b.clk.After(b.hold):
	case <-ctx.Done():
		b.logger.Warn("barrier hold interrupted", zap.Error(ctx.Err()))
	}

	if err := b.act.Close(channels); err != nil {
		b.forceOff("close failed")
		metrics.RecordBarrierCycle(string(req.Source), "error")
		return channels, fmt.Errorf("close channels %v: %w", channels, err)
	}
	b.record(req, channels, types.BarrierClosed)
	metrics.RecordBarrierCycle(string(req.Source), "ok")
	b.logger.Debug("barrier closed", zap.Ints("channels", channels))

	return channels, nil
}

// Shutdown waits for any running cycle and forces every channel off.
func (b *Barrier) Shutdown() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.act.AllOff(); err != nil {
		b.logger.Error("relay all-off failed at shutdown", zap.Error(err))
		return err
	}
	b.logger.Info("relay channels forced off")
	return nil
}

func (b *Barrier) forceOff(why string) {
	if err := b.act.AllOff(); err != nil {
		b.logger.Error("relay all-off failed", zap.String("after", why), zap.Error(err))
	}
}

func (b *Barrier) record(req CycleRequest, channels []int, action types.BarrierAction) {
	if b.sink == nil {
		return
	}
	now := b.clk.Now().UTC()
	for _, ch := range channels {
		err := b.sink.EnqueueBarrierEvent(types.BarrierEvent{
			EventID:     uuid.NewString(),
			RelayNumber: ch,
			Action:      action,
			User:        req.User,
			LaneID:      req.LaneID,
			ReaderID:    req.ReaderID,
			Source:      req.Source,
			Timestamp:   now,
		})
		if err != nil {
			b.logger.Warn("barrier event not queued",
				zap.Int("relay", ch),
				zap.String("action", string(action)),
				zap.Error(err))
		}
	}
}
