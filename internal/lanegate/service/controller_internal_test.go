package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lanegate/server/internal/clock"
	"github.com/lanegate/server/internal/lanegate/relay"
	"github.com/lanegate/server/internal/lanegate/types"
)

type staticLookup map[string]types.Member

func (l staticLookup) Lookup(_ context.Context, tagID string) (types.LookupResult, error) {
	m, ok := l[tagID]
	return types.LookupResult{Found: ok, Member: m}, nil
}

type hookBarrier func(req relay.CycleRequest)

func (h hookBarrier) Cycle(_ context.Context, req relay.CycleRequest) ([]int, error) {
	h(req)
	return req.Channels, nil
}

type discardSink struct{}

func (discardSink) EnqueueAccessLog(types.AccessLogEvent) error { return nil }

var internalT0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func TestDecide_CooldownWrittenBeforeActuation(t *testing.T) {
	clk := clock.Fake(internalT0)

	var c *Controller
	var seenCooldown time.Time
	var hadCooldown bool
	barrier := hookBarrier(func(relay.CycleRequest) {
		// Runs on the deciding goroutine, so direct map access is safe.
		seenCooldown, hadCooldown = c.cooldowns["T1"]
	})

	c = NewController(ControllerConfig{}, staticLookup{"T1": {Owner: "A"}}, barrier, discardSink{}, nil, clk, zap.NewNop())

	d := c.decide(context.Background(), types.TagRead{TagID: "T1", ReaderID: 1, LaneID: 1})
	require.Equal(t, types.OutcomeGranted, d.Outcome)
	assert.True(t, hadCooldown, "cooldown must exist when the barrier is cycled")
	assert.Equal(t, internalT0, seenCooldown)
}

func TestPurge_DropsExpiredState(t *testing.T) {
	clk := clock.Fake(internalT0)
	c := NewController(ControllerConfig{
		CooldownWindow:  3 * time.Second,
		CrossLaneWindow: 20 * time.Second,
	}, staticLookup{"T1": {Owner: "A"}}, hookBarrier(func(relay.CycleRequest) {}), discardSink{}, nil, clk, zap.NewNop())

	ctx := context.Background()
	c.decide(ctx, types.TagRead{TagID: "T1", ReaderID: 1, LaneID: 1})
	c.decide(ctx, types.TagRead{TagID: "T9", ReaderID: 2, LaneID: 2})

	require.Len(t, c.cooldowns, 1)
	require.Len(t, c.episodes, 2)
	require.Len(t, c.dedup, 2)

	c.purge(internalT0.Add(5 * time.Second))
	assert.Empty(t, c.cooldowns, "cooldown window elapsed")
	assert.Len(t, c.episodes, 2, "cross-lane window still open")
	assert.Empty(t, c.dedup)

	c.purge(internalT0.Add(20 * time.Second))
	assert.Empty(t, c.episodes)
}

func TestTouchEpisode_ResetsAfterIdleWindow(t *testing.T) {
	c := NewController(ControllerConfig{CooldownWindow: 3 * time.Second}, staticLookup{}, hookBarrier(func(relay.CycleRequest) {}), discardSink{}, nil, nil, zap.NewNop())

	ep := c.touchEpisode("T1", 1, internalT0)
	ep.recordCount = 3

	ep = c.touchEpisode("T1", 1, internalT0.Add(2999*time.Millisecond))
	assert.Equal(t, 3, ep.recordCount)

	ep = c.touchEpisode("T1", 1, internalT0.Add(6*time.Second))
	assert.Equal(t, 0, ep.recordCount)
}
