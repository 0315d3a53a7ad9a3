// Package reader runs one polling worker per RFID reader and turns raw
// tag-buffer contents into types.TagRead values for the access controller.
package reader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrHardwareConnection marks any failure talking to the reader
	// hardware.  The worker retries it and never treats it as fatal.
	ErrHardwareConnection = errors.New("reader hardware connection")

	// ErrBufferOverflow is reported when one poll yields more unique tags
	// than the configured threshold.  The worker clears the hardware
	// buffer and discards the poll.
	ErrBufferOverflow = errors.New("reader buffer overflow")
)

// ConnectionError records a failed connection attempt.
type ConnectionError struct {
	ReaderID int
	Attempt  int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("reader %d: connect attempt %d: %v", e.ReaderID, e.Attempt, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Is makes every ConnectionError match ErrHardwareConnection.
func (e *ConnectionError) Is(target error) bool { return target == ErrHardwareConnection }

// Device is one physical reader.  Implementations are used by a single
// worker goroutine; calls never overlap.
type Device interface {
	Connect(ctx context.Context) error
	// ReadTags returns the unique tags currently in the hardware buffer.
	ReadTags(ctx context.Context) ([]Tag, error)
	ClearBuffer(ctx context.Context) error
	// Probe checks the connection is still alive.
	Probe(ctx context.Context) error
	Disconnect() error
}

// Endpoint identifies a reader and how to reach it.
type Endpoint struct {
	ReaderID int
	LaneID   int
	DeviceID int
	Address  string
	Driver   string // "tcp" | "sim"
}

// DeviceFactory builds the Device for an endpoint.
type DeviceFactory func(ep Endpoint) (Device, error)

// NewDeviceFactory returns the production factory: "sim" endpoints (or
// addresses with a sim:// scheme) get a SimDevice, everything else a
// TCPDevice bounded by ioTimeout.
func NewDeviceFactory(ioTimeout time.Duration) DeviceFactory {
	return func(ep Endpoint) (Device, error) {
		driver := strings.ToLower(strings.TrimSpace(ep.Driver))
		if driver == "" && strings.HasPrefix(ep.Address, "sim://") {
			driver = "sim"
		}
		switch driver {
		case "sim":
			return NewSimDevice(), nil
		case "", "tcp":
			if strings.TrimSpace(ep.Address) == "" {
				return nil, fmt.Errorf("reader %d: empty address", ep.ReaderID)
			}
			return NewTCPDevice(ep.Address, ioTimeout), nil
		default:
			return nil, fmt.Errorf("reader %d: unknown driver %q", ep.ReaderID, ep.Driver)
		}
	}
}
