package reactor

import (
	"sync"
	"sync/atomic"
	"time"
)

type readiness struct {
	fd  int
	ops Ops
}

// fakeSelector is an in-memory Selector. Readiness is scripted with markReady (reported by the next
// wait) and stick (reported by every wait).
type fakeSelector struct {
	mu       sync.Mutex
	keys     map[int]*Key
	pending  []readiness
	sticky   map[int]Ops
	ready    *ReadySet
	wake     chan struct{}
	closed   bool
	closeErr error
	errs     []error

	// hold, if non-nil, blocks every wait until it is closed, ignoring wakeups.
	hold chan struct{}

	selects   atomic.Int32
	closes    atomic.Int32
	inSelect  atomic.Bool
	lastCount atomic.Int32
}

func newFakeSelector() *fakeSelector {
	return &fakeSelector{
		keys:   make(map[int]*Key),
		sticky: make(map[int]Ops),
		ready:  newReadySet(),
		wake:   make(chan struct{}, 1),
	}
}

func (s *fakeSelector) Register(fd int, interest Ops, processor KeyProcessor) (*Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSelectorClosed
	}

	if _, ok := s.keys[fd]; ok {
		return nil, ErrAlreadyRegistered
	}

	key := newKey(fd, interest, processor, s)
	s.keys[fd] = key

	return key, nil
}

func (s *fakeSelector) Select(timeout time.Duration) (int, error) {
	s.inSelect.Store(true)
	defer s.inSelect.Store(false)

	s.selects.Add(1)

	if s.hold != nil {
		<-s.hold
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrSelectorClosed
	}

	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		s.mu.Unlock()

		return 0, err
	}

	n := s.collectLocked()
	s.mu.Unlock()

	if n == 0 {
		select {
		case <-s.wake:
		case <-time.After(timeout):
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return 0, ErrSelectorClosed
		}

		n = s.collectLocked()
		s.mu.Unlock()
	}

	s.lastCount.Store(int32(n))

	return n, nil
}

func (s *fakeSelector) collectLocked() int {
	n := 0

	add := func(fd int, ops Ops) {
		key := s.keys[fd]
		if key == nil || !key.Valid() {
			return
		}

		if ops &= key.Interest(); ops != 0 && s.ready.add(key, ops) {
			n++
		}
	}

	for _, r := range s.pending {
		add(r.fd, r.ops)
	}
	s.pending = nil

	for fd, ops := range s.sticky {
		add(fd, ops)
	}

	return n
}

func (s *fakeSelector) Ready() *ReadySet {
	return s.ready
}

func (s *fakeSelector) Keys() []*Key {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]*Key, 0, len(s.keys))
	for _, key := range s.keys {
		keys = append(keys, key)
	}

	return keys
}

func (s *fakeSelector) Wakeup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSelectorClosed
	}

	s.signal()

	return nil
}

func (s *fakeSelector) Close() error {
	s.closes.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	for _, key := range s.keys {
		key.canceled.Store(true)
	}
	s.signal()

	return s.closeErr
}

func (s *fakeSelector) modify(key *Key, interest Ops) error {
	key.interest.Store(uint32(interest))
	return nil
}

func (s *fakeSelector) cancel(key *Key) error {
	if key.canceled.Swap(true) {
		return nil
	}

	s.ready.Remove(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keys[key.fd] == key {
		delete(s.keys, key.fd)
	}

	return nil
}

// markReady reports fd ready on the next wait and wakes the selector.
func (s *fakeSelector) markReady(fd int, ops Ops) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, readiness{fd, ops})
	s.signal()
}

// stick reports fd ready on every wait until unstick.
func (s *fakeSelector) stick(fd int, ops Ops) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sticky[fd] = ops
	s.signal()
}

func (s *fakeSelector) unstick(fd int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sticky, fd)
}

// failNext makes the next wait return err.
func (s *fakeSelector) failNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.errs = append(s.errs, err)
	s.signal()
}

func (s *fakeSelector) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

func (s *fakeSelector) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// processorFunc adapts a function to the KeyProcessor interface.
type processorFunc func(key *Key)

func (f processorFunc) ProcessReadyKey(key *Key) {
	f(key)
}
