package reader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lanegate/server/internal/clock"
	"github.com/lanegate/server/internal/lanegate/types"
)

// Supervisor starts one Worker per endpoint, routes buffer-clear requests
// to them, and logs a periodic connected/total heartbeat.
type Supervisor struct {
	workers   map[int]*Worker
	health    *Registry
	clk       clock.Clock
	heartbeat time.Duration
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SupervisorConfig holds the parameters for NewSupervisor.
type SupervisorConfig struct {
	Worker WorkerConfig

	// HeartbeatInterval is how often reader connectivity is logged.
	// 0 disables the heartbeat.
	HeartbeatInterval time.Duration
}

// NewSupervisor builds a device and worker for every endpoint.  Devices
// are not connected until Start.
func NewSupervisor(eps []Endpoint, factory DeviceFactory, cfg SupervisorConfig, out chan<- types.TagRead, health *Registry, clk clock.Clock, logger *zap.Logger) (*Supervisor, error) {
	if clk == nil {
		clk = clock.Real()
	}
	if health == nil {
		health = NewRegistry(clk)
	}

	s := &Supervisor{
		workers:   make(map[int]*Worker, len(eps)),
		health:    health,
		clk:       clk,
		heartbeat: cfg.HeartbeatInterval,
		logger:    logger.Named("readers"),
	}

	for _, ep := range eps {
		if _, dup := s.workers[ep.ReaderID]; dup {
			return nil, fmt.Errorf("reader %d configured twice", ep.ReaderID)
		}
		dev, err := factory(ep)
		if err != nil {
			return nil, err
		}
		s.workers[ep.ReaderID] = NewWorker(ep, dev, cfg.Worker, out, health, clk, s.logger)
	}
	return s, nil
}

func (s *Supervisor) Health() *Registry { return s.health }

// Start launches every worker and the heartbeat loop.
func (s *Supervisor) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for _, w := range s.workers {
		s.wg.Add(1)
		go func(w *Worker) {
			defer s.wg.Done()
			w.Run(ctx)
		}(w)
	}

	if s.heartbeat > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.heartbeatLoop(ctx)
		}()
	}

	s.logger.Info("reader workers started", zap.Int("readers", len(s.workers)))
}

// Stop cancels every worker and waits for them to disconnect.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("reader workers stopped")
}

// RequestClear forwards a buffer-clear request to the reader's worker.
// Unknown readers and already-pending requests return false.
func (s *Supervisor) RequestClear(readerID int) bool {
	w, ok := s.workers[readerID]
	if !ok {
		return false
	}
	return w.RequestClear()
}

func (s *Supervisor) heartbeatLoop(ctx context.Context) {
	ticker := s.clk.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logHeartbeat()
		}
	}
}

func (s *Supervisor) logHeartbeat() {
	sum := s.health.Summary()
	fields := []zap.Field{zap.Int("connected", sum.Connected), zap.Int("total", sum.Total)}
	if sum.Total > 0 && sum.Connected == 0 {
		s.logger.Warn("no readers connected", fields...)
		return
	}
	s.logger.Info(fmt.Sprintf("%d/%d readers connected", sum.Connected, sum.Total), fields...)
}
