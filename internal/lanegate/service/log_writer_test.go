package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lanegate/server/internal/lanegate/service"
	"github.com/lanegate/server/internal/lanegate/store/memory"
	"github.com/lanegate/server/internal/lanegate/types"
)

// gatedStore blocks every insert until gate is closed, and can fail
// inserts for one tag.
type gatedStore struct {
	*memory.EventStore

	gate    chan struct{}
	failTag string

	mu      sync.Mutex
	started int
}

func (s *gatedStore) InsertAccessLog(ctx context.Context, ev types.AccessLogEvent) error {
	s.mu.Lock()
	s.started++
	s.mu.Unlock()

	if s.gate != nil {
		<-s.gate
	}
	if ev.TagID == s.failTag {
		return errors.New("disk full")
	}
	return s.EventStore.InsertAccessLog(ctx, ev)
}

func (s *gatedStore) startedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func TestLogWriter_DrainsOnStop(t *testing.T) {
	st := memory.NewEventStore()
	w := service.NewLogWriter(st, service.LogWriterConfig{QueueSize: 64, Workers: 2}, zap.NewNop())
	require.NoError(t, w.Start())

	for i := 0; i < 20; i++ {
		require.NoError(t, w.EnqueueAccessLog(types.AccessLogEvent{TagID: "T1", Result: types.AccessDenied}))
	}
	require.NoError(t, w.EnqueueBarrierEvent(types.BarrierEvent{RelayNumber: 1, Action: types.BarrierOpened, Source: types.SourceManual}))

	require.NoError(t, w.Stop(time.Second))
	assert.Len(t, st.AccessLogs(), 20)
	assert.Len(t, st.BarrierEvents(), 1)
}

func TestLogWriter_RejectsWhenNotRunning(t *testing.T) {
	w := service.NewLogWriter(memory.NewEventStore(), service.LogWriterConfig{}, zap.NewNop())

	err := w.EnqueueAccessLog(types.AccessLogEvent{TagID: "T1"})
	assert.ErrorIs(t, err, service.ErrWriterStopped)

	require.NoError(t, w.Start())
	assert.Error(t, w.Start(), "second start")
	require.NoError(t, w.Stop(time.Second))
	require.NoError(t, w.Stop(time.Second), "stop is idempotent")

	err = w.EnqueueBarrierEvent(types.BarrierEvent{RelayNumber: 1})
	assert.ErrorIs(t, err, service.ErrWriterStopped)
}

func TestLogWriter_FullQueueDropsWithoutBlocking(t *testing.T) {
	st := &gatedStore{EventStore: memory.NewEventStore(), gate: make(chan struct{})}
	w := service.NewLogWriter(st, service.LogWriterConfig{QueueSize: 1, Workers: 1}, zap.NewNop())
	require.NoError(t, w.Start())

	// First event is held by the worker, second fills the queue.
	require.NoError(t, w.EnqueueAccessLog(types.AccessLogEvent{TagID: "A", Result: types.AccessDenied}))
	require.Eventually(t, func() bool { return st.startedCount() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, w.EnqueueAccessLog(types.AccessLogEvent{TagID: "B", Result: types.AccessDenied}))
	assert.Equal(t, 1, w.Pending())

	start := time.Now()
	err := w.EnqueueAccessLog(types.AccessLogEvent{TagID: "C", Result: types.AccessDenied})
	assert.ErrorIs(t, err, service.ErrQueueFull)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(st.gate)
	require.NoError(t, w.Stop(time.Second))
	assert.Zero(t, w.Pending())

	var tags []string
	for _, ev := range st.AccessLogs() {
		tags = append(tags, ev.TagID)
	}
	assert.ElementsMatch(t, []string{"A", "B"}, tags)
}

func TestLogWriter_FailedWriteIsDroppedAndLaterEventsWritten(t *testing.T) {
	st := &gatedStore{EventStore: memory.NewEventStore(), failTag: "BAD"}
	w := service.NewLogWriter(st, service.LogWriterConfig{Workers: 1}, zap.NewNop())
	require.NoError(t, w.Start())

	require.NoError(t, w.EnqueueAccessLog(types.AccessLogEvent{TagID: "BAD", Result: types.AccessDenied}))
	require.NoError(t, w.EnqueueAccessLog(types.AccessLogEvent{TagID: "GOOD", Result: types.AccessGranted}))
	require.NoError(t, w.Stop(time.Second))

	logs := st.AccessLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, "GOOD", logs[0].TagID)
	assert.Equal(t, 2, st.startedCount())
}

func TestLogWriter_StopTimesOut(t *testing.T) {
	st := &gatedStore{EventStore: memory.NewEventStore(), gate: make(chan struct{})}
	defer close(st.gate)

	w := service.NewLogWriter(st, service.LogWriterConfig{Workers: 1}, zap.NewNop())
	require.NoError(t, w.Start())
	require.NoError(t, w.EnqueueAccessLog(types.AccessLogEvent{TagID: "A"}))
	require.Eventually(t, func() bool { return st.startedCount() == 1 }, time.Second, time.Millisecond)

	err := w.Stop(20 * time.Millisecond)
	assert.Error(t, err)
}
