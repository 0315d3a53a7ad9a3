package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lanegate/server/internal/clock"
	"github.com/lanegate/server/internal/lanegate/service"
	"github.com/lanegate/server/internal/lanegate/store/memory"
	"github.com/lanegate/server/internal/lanegate/types"
)

func TestLogPruner_DisabledWhenRetentionZero(t *testing.T) {
	pruner := service.NewLogPruner(memory.NewEventStore(), service.PrunerConfig{
		RetentionDays: 0,
		IntervalHours: 1,
	}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pruner.Start(ctx)
	// Stop should return immediately.
	pruner.Stop()
}

func TestLogPruner_PrunesOnStartAndOnInterval(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.Fake(now)
	ms := memory.NewEventStore()
	ctx := context.Background()

	require.NoError(t, ms.InsertAccessLog(ctx, types.AccessLogEvent{TagID: "old", Timestamp: now.AddDate(0, 0, -40)}))
	require.NoError(t, ms.InsertAccessLog(ctx, types.AccessLogEvent{TagID: "recent", Timestamp: now.AddDate(0, 0, -1)}))
	require.NoError(t, ms.InsertBarrierEvent(ctx, types.BarrierEvent{RelayNumber: 1, Timestamp: now.AddDate(0, 0, -31)}))

	pruner := service.NewLogPruner(ms, service.PrunerConfig{RetentionDays: 30, IntervalHours: 1}, clk, zap.NewNop())
	pruner.Start(ctx)
	defer pruner.Stop()

	require.Eventually(t, func() bool { return len(ms.AccessLogs()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "recent", ms.AccessLogs()[0].TagID)
	assert.Empty(t, ms.BarrierEvents())

	// 29 days later, "recent" is 30 days old and goes on the next tick.
	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, time.Millisecond)
	clk.Advance(29*24*time.Hour + time.Minute)
	require.Eventually(t, func() bool { return len(ms.AccessLogs()) == 0 }, time.Second, time.Millisecond)
}

func TestLogPruner_StopIsIdempotent(t *testing.T) {
	pruner := service.NewLogPruner(memory.NewEventStore(), service.PrunerConfig{
		RetentionDays: 30,
		IntervalHours: 1,
	}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	pruner.Start(ctx)

	cancel()
	// Multiple stops should not panic.
	pruner.Stop()
	pruner.Stop()
}
