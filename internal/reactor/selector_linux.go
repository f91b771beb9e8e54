//go:build linux

package reactor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// maxEvents bounds the number of readiness events collected by a single wait.
const maxEvents = 256

// epollSelector is a level-triggered epoll selector woken up through an eventfd.
type epollSelector struct {
	epfd   int
	wakefd int

	// pollMu is held for the duration of a wait; Close takes it to wait for an in-flight wait to
	// return before releasing the descriptors.
	pollMu sync.Mutex
	// lifeMu is held shared by operations touching the descriptors outside of a wait, and
	// exclusively by Close while releasing them.
	lifeMu sync.RWMutex
	// keysMu guards keys.
	keysMu sync.Mutex

	keys   map[int]*Key
	ready  *ReadySet
	events []unix.EpollEvent
	closed atomic.Bool
}

// OpenSelector creates an epoll selector with an eventfd for wakeups.
func OpenSelector() (Selector, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: error creating epoll instance: err=%w", err)
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("reactor: error creating wakeup eventfd: err=%w", err)
	}

	event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &event); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("reactor: error registering wakeup eventfd: err=%w", err)
	}

	return &epollSelector{
		epfd:   epfd,
		wakefd: wakefd,
		keys:   make(map[int]*Key),
		ready:  newReadySet(),
		events: make([]unix.EpollEvent, maxEvents),
	}, nil
}

// Register adds fd to the epoll interest list.
func (s *epollSelector) Register(fd int, interest Ops, processor KeyProcessor) (*Key, error) {
	if processor == nil {
		return nil, fmt.Errorf("reactor: nil processor for fd=%d", fd)
	}

	s.lifeMu.RLock()
	defer s.lifeMu.RUnlock()

	if s.closed.Load() {
		return nil, ErrSelectorClosed
	}

	s.keysMu.Lock()
	defer s.keysMu.Unlock()

	if _, ok := s.keys[fd]; ok {
		return nil, fmt.Errorf("%w: fd=%d", ErrAlreadyRegistered, fd)
	}

	key := newKey(fd, interest, processor, s)
	event := unix.EpollEvent{Events: epollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return nil, fmt.Errorf("reactor: error registering fd with epoll: fd=%d err=%w", fd, err)
	}

	s.keys[fd] = key

	return key, nil
}

// Select waits for readiness and moves ready keys into the ready set.
func (s *epollSelector) Select(timeout time.Duration) (int, error) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	if s.closed.Load() {
		return 0, ErrSelectorClosed
	}

	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
	}

	n, err := unix.EpollWait(s.epfd, s.events, msec)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}

		if s.closed.Load() {
			return 0, ErrSelectorClosed
		}

		return 0, fmt.Errorf("reactor: error waiting for readiness: err=%w", err)
	}

	selected := 0

	for i := 0; i < n; i++ {
		event := s.events[i]
		fd := int(event.Fd)

		if fd == s.wakefd {
			s.drainWakeup()
			continue
		}

		s.keysMu.Lock()
		key := s.keys[fd]
		s.keysMu.Unlock()

		if key == nil || !key.Valid() {
			continue
		}

		ops := readyOps(event.Events, key.Interest())
		if ops == 0 {
			continue
		}

		if s.ready.add(key, ops) {
			selected++
		}
	}

	return selected, nil
}

// Ready returns the selected key set.
func (s *epollSelector) Ready() *ReadySet {
	return s.ready
}

// Keys returns a snapshot of the registered keys.
func (s *epollSelector) Keys() []*Key {
	s.keysMu.Lock()
	defer s.keysMu.Unlock()

	keys := make([]*Key, 0, len(s.keys))
	for _, key := range s.keys {
		keys = append(keys, key)
	}

	return keys
}

// Wakeup makes the eventfd readable. The counter stays readable until the next wait drains it, so
// a wakeup issued between waits is not lost.
func (s *epollSelector) Wakeup() error {
	s.lifeMu.RLock()
	defer s.lifeMu.RUnlock()

	if s.closed.Load() {
		return ErrSelectorClosed
	}

	return s.signal()
}

// Close cancels every key and releases the epoll and eventfd descriptors. It is idempotent.
func (s *epollSelector) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	// Unblock a wait in progress so pollMu can be acquired.
	_ = s.signal()

	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.keysMu.Lock()
	for fd, key := range s.keys {
		key.canceled.Store(true)
		delete(s.keys, fd)
	}
	s.keysMu.Unlock()

	s.ready.clear()

	wakeErr := unix.Close(s.wakefd)
	epollErr := unix.Close(s.epfd)

	if epollErr != nil {
		return fmt.Errorf("reactor: error closing epoll instance: err=%w", epollErr)
	}

	if wakeErr != nil {
		return fmt.Errorf("reactor: error closing wakeup eventfd: err=%w", wakeErr)
	}

	return nil
}

func (s *epollSelector) modify(key *Key, interest Ops) error {
	s.lifeMu.RLock()
	defer s.lifeMu.RUnlock()

	if s.closed.Load() {
		return ErrSelectorClosed
	}

	if !key.Valid() {
		return ErrKeyCanceled
	}

	event := unix.EpollEvent{Events: epollEvents(interest), Fd: int32(key.fd)}
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_MOD, key.fd, &event); err != nil {
		return fmt.Errorf("reactor: error modifying interest: fd=%d err=%w", key.fd, err)
	}

	key.interest.Store(uint32(interest))

	return nil
}

func (s *epollSelector) cancel(key *Key) error {
	if key.canceled.Swap(true) {
		return nil
	}

	s.ready.Remove(key)

	s.lifeMu.RLock()
	defer s.lifeMu.RUnlock()

	if s.closed.Load() {
		return nil
	}

	s.keysMu.Lock()
	if s.keys[key.fd] == key {
		delete(s.keys, key.fd)
	}
	s.keysMu.Unlock()

	err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, key.fd, nil)
	if err != nil && !errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.EBADF) {
		return fmt.Errorf("reactor: error deregistering fd: fd=%d err=%w", key.fd, err)
	}

	return nil
}

// signal increments the eventfd counter.
func (s *epollSelector) signal() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)

	if _, err := unix.Write(s.wakefd, buf[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("reactor: error signaling wakeup eventfd: err=%w", err)
	}

	return nil
}

// drainWakeup resets the eventfd counter.
func (s *epollSelector) drainWakeup() {
	var buf [8]byte
	_, _ = unix.Read(s.wakefd, buf[:])
}

// epollEvents translates interest operations to epoll event flags.
func epollEvents(interest Ops) uint32 {
	var events uint32

	if interest&OpRead != 0 {
		events |= unix.EPOLLIN
	}

	if interest&OpWrite != 0 {
		events |= unix.EPOLLOUT
	}

	return events
}

// readyOps translates epoll event flags to ready operations. Error and hangup conditions mark every
// interest operation ready so the processor's next read or write surfaces the failure.
func readyOps(events uint32, interest Ops) Ops {
	var ops Ops

	if events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		return interest
	}

	if events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
		ops |= OpRead
	}

	if events&unix.EPOLLOUT != 0 {
		ops |= OpWrite
	}

	return ops & interest
}
