package reactor

import (
	"errors"
)

var (
	// ErrInvalidPollTimeout is returned by Acquire when the configured poll timeout is outside
	// [MinPollTimeout, MaxPollTimeout].
	ErrInvalidPollTimeout = errors.New("reactor: invalid poll timeout, must be between 1 and 1000")
	// ErrClosing is returned by Acquire while the current generation is being torn down.
	ErrClosing = errors.New("reactor: close in progress")
	// ErrSelectorClosed is returned by selector operations after the selector was closed.
	ErrSelectorClosed = errors.New("reactor: selector closed")
	// ErrUnsupportedPlatform is returned when no selector implementation exists for this platform.
	ErrUnsupportedPlatform = errors.New("reactor: this platform is not supported")
	// ErrKeyCanceled is returned when operating on a key that was canceled.
	ErrKeyCanceled = errors.New("reactor: key canceled")
	// ErrAlreadyRegistered is returned when registering a file descriptor twice with one selector.
	ErrAlreadyRegistered = errors.New("reactor: fd already registered")
)
