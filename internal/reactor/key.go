package reactor

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Ops is a bit set of I/O operations a key is interested in, or ready for.
type Ops uint32

const (
	// OpRead indicates the file descriptor is readable.
	OpRead Ops = 1 << iota
	// OpWrite indicates the file descriptor is writable. A non-blocking connect completes (or
	// fails) when the socket becomes writable.
	OpWrite
)

// String implements the Stringer interface for human-consumable representation.
func (o Ops) String() string {
	switch o {
	case 0:
		return "none"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpRead | OpWrite:
		return "read|write"
	default:
		return fmt.Sprintf("Ops(%#x)", uint32(o))
	}
}

// KeyProcessor is implemented by the attachment of every registered key. ProcessReadyKey is called
// on the reactor goroutine once per readiness event and must not block.
type KeyProcessor interface {
	ProcessReadyKey(key *Key)
}

// keyOwner is implemented by selectors to back interest changes and cancellation of their keys.
type keyOwner interface {
	modify(key *Key, interest Ops) error
	cancel(key *Key) error
}

// Key is the registration of a single file descriptor with a selector.
type Key struct {
	fd        int
	processor KeyProcessor
	owner     keyOwner
	interest  atomic.Uint32
	ready     atomic.Uint32
	canceled  atomic.Bool
}

func newKey(fd int, interest Ops, processor KeyProcessor, owner keyOwner) *Key {
	k := &Key{fd: fd, processor: processor, owner: owner}
	k.interest.Store(uint32(interest))

	return k
}

// FD returns the registered file descriptor.
func (k *Key) FD() int {
	return k.fd
}

// Processor returns the key's attachment.
func (k *Key) Processor() KeyProcessor {
	return k.processor
}

// Interest returns the operations the selector watches for.
func (k *Key) Interest() Ops {
	return Ops(k.interest.Load())
}

// Ready returns the operations found ready by the most recent wait that selected this key.
func (k *Key) Ready() Ops {
	return Ops(k.ready.Load())
}

// Readable reports whether the key was selected for reading.
func (k *Key) Readable() bool {
	return k.Ready()&OpRead != 0
}

// Writable reports whether the key was selected for writing.
func (k *Key) Writable() bool {
	return k.Ready()&OpWrite != 0
}

// Valid reports whether the key is still registered.
func (k *Key) Valid() bool {
	return !k.canceled.Load()
}

// SetInterest replaces the operations the selector watches for.
func (k *Key) SetInterest(interest Ops) error {
	if k.canceled.Load() {
		return ErrKeyCanceled
	}

	return k.owner.modify(k, interest)
}

// Cancel deregisters the key. It is idempotent. The file descriptor must be canceled before it is
// closed, or the descriptor number could be reused while still registered.
func (k *Key) Cancel() error {
	return k.owner.cancel(k)
}

// String implements the Stringer interface for human-consumable representation.
func (k *Key) String() string {
	return fmt.Sprintf("Key{fd: %d, interest: %s, ready: %s}", k.fd, k.Interest(), k.Ready())
}

// ReadySet is the ordered set of keys selected by waits and not yet dispatched.
type ReadySet struct {
	mu    sync.Mutex
	order []*Key
	index map[*Key]struct{}
}

func newReadySet() *ReadySet {
	return &ReadySet{index: make(map[*Key]struct{})}
}

// add records that key is ready for ops. A key that is not yet in the set has its ready operations
// replaced and is appended; a key already in the set accumulates ops. It returns true if the key
// was newly added.
func (s *ReadySet) add(key *Key, ops Ops) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[key]; ok {
		key.ready.Store(key.ready.Load() | uint32(ops))
		return false
	}

	key.ready.Store(uint32(ops))
	s.index[key] = struct{}{}
	s.order = append(s.order, key)

	return true
}

// Pop removes and returns the oldest ready key.
func (s *ReadySet) Pop() (*Key, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) == 0 {
		return nil, false
	}

	key := s.order[0]
	s.order[0] = nil
	s.order = s.order[1:]
	delete(s.index, key)

	return key, true
}

// Remove discards a key from the set, reporting whether it was present.
func (s *ReadySet) Remove(key *Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[key]; !ok {
		return false
	}

	delete(s.index, key)
	for i, candidate := range s.order {
		if candidate == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	return true
}

// Contains reports whether the key is waiting to be dispatched.
func (s *ReadySet) Contains(key *Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.index[key]

	return ok
}

// Len returns the number of keys waiting to be dispatched.
func (s *ReadySet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.order)
}

// clear empties the set.
func (s *ReadySet) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = nil
	s.index = make(map[*Key]struct{})
}
