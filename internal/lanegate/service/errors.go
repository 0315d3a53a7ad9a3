package service

import "errors"

var (
	// ErrLookup wraps any membership lookup failure, including timeouts.
	// The controller decides DeniedNotFound with reason lookup_error.
	ErrLookup = errors.New("membership lookup failed")

	// ErrPersistence wraps a failed audit write.  The event is dropped.
	ErrPersistence = errors.New("audit write failed")

	// ErrQueueFull is returned by Enqueue when the log queue is at
	// capacity.  The event is dropped.
	ErrQueueFull = errors.New("log writer queue full")

	// ErrWriterStopped is returned by Enqueue before Start or after Stop.
	ErrWriterStopped = errors.New("log writer stopped")

	// ErrControllerStopped is returned by Decide once Run has exited.
	ErrControllerStopped = errors.New("access controller stopped")
)
