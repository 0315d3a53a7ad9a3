package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lanegate/server/internal/lanegate/store"
	"github.com/lanegate/server/internal/lanegate/types"
	"github.com/lanegate/server/internal/metrics"
)

// logEvent is one queued audit record: exactly one of access / barrier
// is set.
type logEvent struct {
	access  *types.AccessLogEvent
	barrier *types.BarrierEvent
}

func (e logEvent) kind() string {
	if e.access != nil {
		return "access"
	}
	return "barrier"
}

// LogWriterConfig holds the parameters for NewLogWriter.
type LogWriterConfig struct {
	QueueSize    int           // bounded queue capacity, default 1024
	Workers      int           // drain goroutines, default 2
	WriteTimeout time.Duration // per-event storage timeout, default 5s
}

// LogWriter persists audit events off the decision path.  Enqueue never
// blocks: a full queue drops the event.  A failed write is logged and
// dropped; there is no retry.
type LogWriter struct {
	store   store.EventStore
	logger  *zap.Logger
	queue   chan logEvent
	workers int
	timeout time.Duration

	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup
}

func NewLogWriter(s store.EventStore, cfg LogWriterConfig, logger *zap.Logger) *LogWriter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &LogWriter{
		store:   s,
		logger:  logger.Named("log_writer"),
		queue:   make(chan logEvent, cfg.QueueSize),
		workers: cfg.Workers,
		timeout: cfg.WriteTimeout,
	}
}

// Start launches the worker pool.
func (w *LogWriter) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return errors.New("log writer already started")
	}
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.worker(i)
	}
	w.started = true
	w.logger.Info("log writer started",
		zap.Int("workers", w.workers),
		zap.Int("queue_size", cap(w.queue)))
	return nil
}

// Stop refuses new events and waits up to timeout for the queue to drain.
// Events still queued when the timeout expires are lost.
func (w *LogWriter) Stop(timeout time.Duration) error {
	w.mu.Lock()
	if !w.started || w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	pending := w.Pending()
	close(w.queue)
	w.mu.Unlock()

	w.logger.Info("draining log writer", zap.Int("pending", pending))

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("log writer stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("log writer drain timed out after %v with %d events pending", timeout, w.Pending())
	}
}

// EnqueueAccessLog queues an access decision for persistence.
func (w *LogWriter) EnqueueAccessLog(ev types.AccessLogEvent) error {
	return w.enqueue(logEvent{access: &ev})
}

// EnqueueBarrierEvent queues a relay transition for persistence.
func (w *LogWriter) EnqueueBarrierEvent(ev types.BarrierEvent) error {
	return w.enqueue(logEvent{barrier: &ev})
}

// Pending reports how many events are waiting.
func (w *LogWriter) Pending() int { return len(w.queue) }

func (w *LogWriter) enqueue(ev logEvent) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if !w.started || w.stopped {
		metrics.RecordLogEvent(ev.kind(), "dropped")
		return ErrWriterStopped
	}

	select {
	case w.queue <- ev:
		metrics.SetLogQueueDepth(w.Pending())
		return nil
	default:
		metrics.RecordLogEvent(ev.kind(), "dropped")
		w.logger.Warn("log queue full, dropping event", zap.String("kind", ev.kind()))
		return ErrQueueFull
	}
}

func (w *LogWriter) worker(id int) {
	defer w.wg.Done()

	for ev := range w.queue {
		metrics.SetLogQueueDepth(w.Pending())
		if err := w.write(ev); err != nil {
			metrics.RecordLogEvent(ev.kind(), "failed")
			w.logger.Error("audit write failed, event dropped",
				zap.Int("worker_id", id),
				zap.String("kind", ev.kind()),
				zap.Error(err))
			continue
		}
		metrics.RecordLogEvent(ev.kind(), "written")
	}
}

func (w *LogWriter) write(ev logEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	var err error
	if ev.access != nil {
		err = w.store.InsertAccessLog(ctx, *ev.access)
	} else {
		err = w.store.InsertBarrierEvent(ctx, *ev.barrier)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}
