// Package relay drives the barrier relay board.  Every open is a timed
// cycle serialized by Barrier; all channels are forced off at startup and
// on every shutdown path.
package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidChannel is returned for channel numbers outside 1..N.
	ErrInvalidChannel = errors.New("invalid relay channel")

	// ErrActuatorInit means the relay board could not be brought to a
	// known all-off state.  The process must not start.
	ErrActuatorInit = errors.New("relay actuator init")
)

// Actuator switches relay channels.  Channels are numbered from 1.
// Implementations need not be safe for concurrent use; Barrier
// serializes every call.
type Actuator interface {
	Channels() int
	Open(channels []int) error
	Close(channels []int) error
	AllOff() error
}

func checkChannels(n int, channels []int) error {
	for _, ch := range channels {
		if ch < 1 || ch > n {
			return fmt.Errorf("%w: %d (have 1..%d)", ErrInvalidChannel, ch, n)
		}
	}
	return nil
}
