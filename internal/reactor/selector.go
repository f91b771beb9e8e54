package reactor

import (
	"time"
)

// Selector is the readiness multiplexer: it owns a set of registered keys and reports which of them
// are ready for I/O.
//
// Select, and the dispatch of the ready set, belong to the reactor goroutine. Register may be called
// from any goroutine, but transports are expected to defer registrations to the DrainRegistrations
// hook so that the registration set changes only between waits.
type Selector interface {
	// Register starts watching fd for the interest operations, with processor as the key's
	// attachment.
	Register(fd int, interest Ops, processor KeyProcessor) (*Key, error)

	// Select blocks until at least one key is ready, the selector is woken up, or the timeout
	// elapses. It returns the number of keys newly added to the ready set.
	Select(timeout time.Duration) (int, error)

	// Ready returns the set of selected keys awaiting dispatch.
	Ready() *ReadySet

	// Keys returns a snapshot of the registered keys.
	Keys() []*Key

	// Wakeup makes a blocked Select return immediately. If no Select is in progress, the next one
	// returns immediately instead.
	Wakeup() error

	// Close releases the selector and cancels every key. Subsequent operations fail with
	// ErrSelectorClosed.
	Close() error
}
