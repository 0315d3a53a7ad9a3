package service_test

import (
	"context"
	"sync"

	"github.com/lanegate/server/internal/lanegate/relay"
	"github.com/lanegate/server/internal/lanegate/types"
)

type fakeLookup struct {
	mu      sync.Mutex
	members map[string]types.Member
	err     error
	calls   int
}

func newFakeLookup(members map[string]types.Member) *fakeLookup {
	return &fakeLookup{members: members}
}

func (l *fakeLookup) Lookup(_ context.Context, tagID string) (types.LookupResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return types.LookupResult{}, l.err
	}
	m, ok := l.members[tagID]
	return types.LookupResult{Found: ok, Member: m}, nil
}

func (l *fakeLookup) setErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

func (l *fakeLookup) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type fakeBarrier struct {
	mu     sync.Mutex
	cycles []relay.CycleRequest
	err    error

	// gate, when set, blocks Cycle until it is closed.
	gate    chan struct{}
	entered chan struct{}
}

func (b *fakeBarrier) Cycle(ctx context.Context, req relay.CycleRequest) ([]int, error) {
	b.mu.Lock()
	b.cycles = append(b.cycles, req)
	gate, entered, err := b.gate, b.entered, b.err
	b.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return req.Channels, nil
}

func (b *fakeBarrier) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cycles)
}

func (b *fakeBarrier) last() relay.CycleRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cycles[len(b.cycles)-1]
}

type fakeSink struct {
	mu     sync.Mutex
	events []types.AccessLogEvent
	fail   int // reject the next fail enqueues
	err    error
}

func (s *fakeSink) EnqueueAccessLog(ev types.AccessLogEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeSink) all() []types.AccessLogEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.AccessLogEvent(nil), s.events...)
}

type fakeClearer struct {
	mu      sync.Mutex
	readers []int
}

func (c *fakeClearer) RequestClear(readerID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readers = append(c.readers, readerID)
	return true
}

func (c *fakeClearer) all() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.readers...)
}
