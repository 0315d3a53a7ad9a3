package reader

import (
	"context"
	"errors"
	"sync"
)

// SimDevice is an in-process reader for development sites without
// hardware, and for tests.  Tags are queued with Inject and returned by
// the next ReadTags; failures are scripted with FailConnects and Drop.
type SimDevice struct {
	mu sync.Mutex

	connected    bool
	pending      []Tag
	failConnects int
	connectCalls int
	clearCalls   int
	readErr      error
}

func NewSimDevice() *SimDevice { return &SimDevice{} }

// Inject queues tags for the next poll.  Duplicates are filtered per poll
// the same way the hardware buffer parser does.
func (d *SimDevice) Inject(tags ...Tag) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(d.pending, tags...)
}

// FailConnects makes the next n Connect calls fail.
func (d *SimDevice) FailConnects(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failConnects = n
}

// Drop simulates the link going away: probes and polls fail until the
// next successful Connect.
func (d *SimDevice) Drop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
}

// FailNextRead makes the next ReadTags return err.
func (d *SimDevice) FailNextRead(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readErr = err
}

func (d *SimDevice) ConnectCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connectCalls
}

func (d *SimDevice) ClearCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clearCalls
}

func (d *SimDevice) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *SimDevice) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.connectCalls++
	if d.failConnects > 0 {
		d.failConnects--
		return hardwareErr("sim connect", errors.New("connection refused"))
	}
	d.connected = true
	d.pending = nil
	return nil
}

func (d *SimDevice) ReadTags(ctx context.Context) ([]Tag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil, hardwareErr("sim read", errors.New("not connected"))
	}
	if err := d.readErr; err != nil {
		d.readErr = nil
		return nil, err
	}

	var out []Tag
	seen := make(map[string]struct{}, len(d.pending))
	for _, t := range d.pending {
		if _, dup := seen[t.EPC]; dup {
			continue
		}
		seen[t.EPC] = struct{}{}
		out = append(out, t)
	}
	d.pending = nil
	return out, nil
}

func (d *SimDevice) ClearBuffer(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return hardwareErr("sim clear", errors.New("not connected"))
	}
	d.clearCalls++
	d.pending = nil
	return nil
}

func (d *SimDevice) Probe(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return hardwareErr("sim probe", errors.New("not connected"))
	}
	return nil
}

func (d *SimDevice) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	return nil
}
