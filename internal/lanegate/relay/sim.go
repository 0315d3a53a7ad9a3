package relay

import "sync"

// SimActuator keeps relay state in memory.  Used when the host has no
// GPIO and by tests.
type SimActuator struct {
	mu       sync.Mutex
	state    []bool
	opens    int
	overlaps int
	failOpen error
	failOff  error
}

func NewSimActuator(channels int) *SimActuator {
	if channels <= 0 {
		channels = 3
	}
	return &SimActuator{state: make([]bool, channels)}
}

func (s *SimActuator) Channels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state)
}

func (s *SimActuator) Open(channels []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkChannels(len(s.state), channels); err != nil {
		return err
	}
	if s.failOpen != nil {
		return s.failOpen
	}
	for _, ch := range channels {
		if s.state[ch-1] {
			s.overlaps++
		}
		s.state[ch-1] = true
	}
	s.opens++
	return nil
}

func (s *SimActuator) Close(channels []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkChannels(len(s.state), channels); err != nil {
		return err
	}
	for _, ch := range channels {
		s.state[ch-1] = false
	}
	return nil
}

func (s *SimActuator) AllOff() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failOff != nil {
		return s.failOff
	}
	for i := range s.state {
		s.state[i] = false
	}
	return nil
}

// ForceOn sets a channel without going through Open, to model a board
// left energized by a crashed process.
func (s *SimActuator) ForceOn(ch int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[ch-1] = true
}

// FailOpen makes Open return err until called again with nil.
func (s *SimActuator) FailOpen(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOpen = err
}

// FailAllOff makes AllOff return err until called again with nil.
func (s *SimActuator) FailAllOff(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOff = err
}

// State returns the on/off state of every channel, channel 1 first.
func (s *SimActuator) State() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.state...)
}

// AnyOn reports whether any channel is energized.
func (s *SimActuator) AnyOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, on := range s.state {
		if on {
			return true
		}
	}
	return false
}

// Opens counts successful Open calls.
func (s *SimActuator) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// Overlaps counts Open calls that found a channel already energized.
func (s *SimActuator) Overlaps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlaps
}
