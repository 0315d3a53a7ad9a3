package reader

import (
	"sort"
	"sync"
	"time"

	"github.com/lanegate/server/internal/clock"
	"github.com/lanegate/server/internal/lanegate/types"
	"github.com/lanegate/server/internal/metrics"
)

// Registry tracks per-reader health.  Workers write to it; the heartbeat,
// HTTP and gRPC surfaces read snapshots.
type Registry struct {
	clk clock.Clock

	mu        sync.RWMutex
	readers   map[int]*types.ReaderHealth
	listeners []func(types.ReaderHealth)
}

func NewRegistry(clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.Real()
	}
	return &Registry{clk: clk, readers: make(map[int]*types.ReaderHealth)}
}

// OnChange registers fn to be called after every state transition.  fn
// runs on the worker goroutine and must not block.
func (r *Registry) OnChange(fn func(types.ReaderHealth)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Register adds a reader in the Disconnected state.
func (r *Registry) Register(ep Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.readers[ep.ReaderID] = &types.ReaderHealth{
		ReaderID:  ep.ReaderID,
		LaneID:    ep.LaneID,
		Address:   ep.Address,
		State:     types.ReaderDisconnected,
		UpdatedAt: r.clk.Now().UTC(),
	}
	metrics.SetReaderConnected(ep.ReaderID, false)
}

// SetState records a state transition.  A nil err keeps the previous
// LastError unless the reader came online.
func (r *Registry) SetState(readerID int, state types.ReaderState, err error) {
	r.mu.Lock()
	h, ok := r.readers[readerID]
	if !ok {
		r.mu.Unlock()
		return
	}
	prev := h.State
	h.State = state
	h.Connected = state.Online()
	if err != nil {
		h.LastError = err.Error()
	} else if h.Connected {
		h.LastError = ""
	}
	h.UpdatedAt = r.clk.Now().UTC()
	snap := *h
	listeners := append([]func(types.ReaderHealth){}, r.listeners...)
	r.mu.Unlock()

	metrics.SetReaderConnected(readerID, snap.Connected)
	// Connected and Polling alternate every poll; only report real changes.
	if prev != state && !(prev.Online() && state.Online()) {
		for _, fn := range listeners {
			fn(snap)
		}
	}
}

func (r *Registry) SetAttempts(readerID, attempts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.readers[readerID]; ok {
		h.ConnectionAttempts = attempts
	}
}

// MarkEvent records the time of the latest tag read.
func (r *Registry) MarkEvent(readerID int, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.readers[readerID]; ok {
		at = at.UTC()
		h.LastEventAt = &at
	}
}

// Get returns one reader's health with LastEventAgeS filled in.
func (r *Registry) Get(readerID int) (types.ReaderHealth, bool) {
	now := r.clk.Now()

	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.readers[readerID]
	if !ok {
		return types.ReaderHealth{}, false
	}
	return snapshot(h, now), true
}

// Summary returns all readers ordered by id plus the connected count.
func (r *Registry) Summary() types.HealthSummary {
	now := r.clk.Now()

	r.mu.RLock()
	out := make([]types.ReaderHealth, 0, len(r.readers))
	connected := 0
	for _, h := range r.readers {
		if h.Connected {
			connected++
		}
		out = append(out, snapshot(h, now))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ReaderID < out[j].ReaderID })
	return types.HealthSummary{
		Connected:  connected,
		Total:      len(out),
		Readers:    out,
		ServerTime: now.UTC().Format(time.RFC3339),
	}
}

func snapshot(h *types.ReaderHealth, now time.Time) types.ReaderHealth {
	s := *h
	if h.LastEventAt != nil {
		at := *h.LastEventAt
		s.LastEventAt = &at
		age := now.Sub(at).Seconds()
		s.LastEventAgeS = &age
	}
	return s
}
