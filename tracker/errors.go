package tracker

import "errors"

var (
	// ErrInvalidCapacity is returned by New when capacity is not positive.
	ErrInvalidCapacity = errors.New("tracker: capacity must be positive")

	// ErrInvalidMessage is returned by Add for a message without an id.
	ErrInvalidMessage = errors.New("tracker: invalid message")
)
