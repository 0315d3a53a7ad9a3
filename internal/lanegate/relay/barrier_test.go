package relay_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lanegate/server/internal/clock"
	"github.com/lanegate/server/internal/lanegate/relay"
	"github.com/lanegate/server/internal/lanegate/types"
)

type recordingSink struct {
	mu     sync.Mutex
	events []types.BarrierEvent
}

func (s *recordingSink) EnqueueBarrierEvent(ev types.BarrierEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) all() []types.BarrierEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.BarrierEvent(nil), s.events...)
}

func newBarrier(t *testing.T, act relay.Actuator, hold time.Duration, sink relay.EventSink) *relay.Barrier {
	t.Helper()
	b, err := relay.NewBarrier(act, hold, sink, clock.Real(), zap.NewNop())
	require.NoError(t, err)
	return b
}

func TestNewBarrier_ForcesAllOffAtStartup(t *testing.T) {
	act := relay.NewSimActuator(3)
	act.ForceOn(1)
	act.ForceOn(3)

	newBarrier(t, act, time.Millisecond, nil)

	assert.Equal(t, []bool{false, false, false}, act.State())
}

func TestNewBarrier_AllOffFailureIsFatal(t *testing.T) {
	act := relay.NewSimActuator(3)
	act.FailAllOff(errors.New("i2c bus error"))

	_, err := relay.NewBarrier(act, time.Millisecond, nil, nil, zap.NewNop())
	assert.ErrorIs(t, err, relay.ErrActuatorInit)
}

func TestBarrier_CycleOpensHoldsAndCloses(t *testing.T) {
	act := relay.NewSimActuator(3)
	sink := &recordingSink{}
	b := newBarrier(t, act, 30*time.Millisecond, sink)

	done := make(chan []int)
	go func() {
		chs, err := b.Cycle(context.Background(), relay.CycleRequest{
			Channels: []int{2, 1, 2},
			User:     "Karthik Kumar",
			LaneID:   1,
			ReaderID: 1,
			Source:   types.SourceAuto,
		})
		assert.NoError(t, err)
		done <- chs
	}()

	require.Eventually(t, act.AnyOn, time.Second, time.Millisecond)
	assert.Equal(t, []bool{true, true, false}, act.State())

	chs := <-done
	assert.Equal(t, []int{1, 2}, chs)
	assert.False(t, act.AnyOn())

	events := sink.all()
	require.Len(t, events, 4)
	assert.Equal(t, types.BarrierOpened, events[0].Action)
	assert.Equal(t, 1, events[0].RelayNumber)
	assert.Equal(t, types.BarrierOpened, events[1].Action)
	assert.Equal(t, 2, events[1].RelayNumber)
	assert.Equal(t, types.BarrierClosed, events[2].Action)
	assert.Equal(t, types.BarrierClosed, events[3].Action)
	for _, ev := range events {
		assert.Equal(t, "Karthik Kumar", ev.User)
		assert.Equal(t, types.SourceAuto, ev.Source)
		assert.NotEmpty(t, ev.EventID)
	}
}

func TestBarrier_EmptyChannelsMeansAll(t *testing.T) {
	b := newBarrier(t, relay.NewSimActuator(3), time.Millisecond, nil)

	chs, err := b.Cycle(context.Background(), relay.CycleRequest{Source: types.SourceManual})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, chs)
}

func TestBarrier_InvalidChannel(t *testing.T) {
	act := relay.NewSimActuator(3)
	b := newBarrier(t, act, time.Millisecond, nil)

	_, err := b.Cycle(context.Background(), relay.CycleRequest{Channels: []int{4}})
	assert.ErrorIs(t, err, relay.ErrInvalidChannel)

	_, err = b.Resolve([]int{0})
	assert.ErrorIs(t, err, relay.ErrInvalidChannel)
	assert.Equal(t, 0, act.Opens())
}

func TestBarrier_ConcurrentCyclesNeverOverlap(t *testing.T) {
	act := relay.NewSimActuator(3)
	b := newBarrier(t, act, 5*time.Millisecond, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			src := types.SourceAuto
			if i%2 == 0 {
				src = types.SourceManual
			}
			_, err := b.Cycle(context.Background(), relay.CycleRequest{Source: src})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 8, act.Opens())
	assert.Zero(t, act.Overlaps())
	assert.False(t, act.AnyOn())
}

func TestBarrier_OpenFailureLeavesAllOff(t *testing.T) {
	act := relay.NewSimActuator(3)
	sink := &recordingSink{}
	b := newBarrier(t, act, time.Millisecond, sink)

	act.FailOpen(errors.New("relay stuck"))
	_, err := b.Cycle(context.Background(), relay.CycleRequest{})
	require.Error(t, err)

	assert.False(t, act.AnyOn())
	assert.Empty(t, sink.all())
}

func TestBarrier_CancelShortensHoldButCloses(t *testing.T) {
	act := relay.NewSimActuator(3)
	b := newBarrier(t, act, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		_, err := b.Cycle(ctx, relay.CycleRequest{Channels: []int{1}})
		done <- err
	}()

	require.Eventually(t, act.AnyOn, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("cycle did not return after cancel")
	}
	assert.False(t, act.AnyOn())
}

func TestBarrier_ShutdownForcesAllOff(t *testing.T) {
	act := relay.NewSimActuator(3)
	b := newBarrier(t, act, time.Millisecond, nil)

	act.ForceOn(2)
	require.NoError(t, b.Shutdown())
	assert.False(t, act.AnyOn())
}
