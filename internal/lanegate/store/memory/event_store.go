package memory

import (
	"context"
	"sync"
	"time"

	"github.com/lanegate/server/internal/lanegate/types"
)

// EventStore is an in-memory append-only log of access decisions and
// barrier transitions.  It is intended for use in tests and dev environments.
type EventStore struct {
	mu      sync.Mutex
	access  []types.AccessLogEvent
	barrier []types.BarrierEvent
}

func NewEventStore() *EventStore {
	return &EventStore{}
}

func (s *EventStore) InsertAccessLog(_ context.Context, ev types.AccessLogEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	s.access = append(s.access, ev)
	return nil
}

func (s *EventStore) InsertBarrierEvent(_ context.Context, ev types.BarrierEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	s.barrier = append(s.barrier, ev)
	return nil
}

func (s *EventStore) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	keptA := s.access[:0]
	for _, ev := range s.access {
		if ev.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		keptA = append(keptA, ev)
	}
	s.access = keptA

	keptB := s.barrier[:0]
	for _, ev := range s.barrier {
		if ev.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		keptB = append(keptB, ev)
	}
	s.barrier = keptB

	return deleted, nil
}

// AccessLogs returns a copy of all recorded access events.  Test-only helper.
func (s *EventStore) AccessLogs() []types.AccessLogEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.AccessLogEvent, len(s.access))
	copy(out, s.access)
	return out
}

// BarrierEvents returns a copy of all recorded barrier events.
func (s *EventStore) BarrierEvents() []types.BarrierEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.BarrierEvent, len(s.barrier))
	copy(out, s.barrier)
	return out
}
