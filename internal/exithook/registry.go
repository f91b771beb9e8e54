package exithook

import (
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var (
	// ErrExiting is returned when adding or removing a hook after the registry started running.
	ErrExiting = errors.New("exithook: process exit in progress")
	// ErrNotRegistered is returned when removing a hook that is not (or no longer) registered.
	ErrNotRegistered = errors.New("exithook: hook not registered")
)

// Default is the process-wide registry.
var Default = NewRegistry()

// Registry holds named callbacks to run once, concurrently, when the process exits.
type Registry struct {
	mu      sync.Mutex
	hooks   map[uint64]*Handle
	nextID  uint64
	running bool
	done    chan struct{}
}

// Handle identifies a single registered hook.
type Handle struct {
	id       uint64
	name     string
	fn       func()
	registry *Registry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		hooks: make(map[uint64]*Handle),
		done:  make(chan struct{}),
	}
}

// Add registers a hook. It fails with ErrExiting once the registry has started running its hooks.
func (r *Registry) Add(name string, fn func()) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil, ErrExiting
	}

	r.nextID++
	h := &Handle{id: r.nextID, name: name, fn: fn, registry: r}
	r.hooks[h.id] = h

	return h, nil
}

// Len returns the number of hooks currently registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.hooks)
}

// Run invokes every registered hook concurrently and blocks until all of them return. It runs at
// most once per registry; later callers block until the first run completes.
func (r *Registry) Run() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		<-r.done
		return
	}

	r.running = true
	hooks := make([]*Handle, 0, len(r.hooks))
	for _, h := range r.hooks {
		hooks = append(hooks, h)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range hooks {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			defer func() { _ = recover() }()

			h.fn()
		}(h)
	}
	wg.Wait()

	close(r.done)
}

// NotifyOnSignal runs the registry when the process receives one of the given signals (SIGINT and
// SIGTERM if none are given), then calls exit with status 1. A nil exit defaults to os.Exit. The
// returned function stops listening.
func (r *Registry) NotifyOnSignal(exit func(code int), signals ...os.Signal) (stop func()) {
	if exit == nil {
		exit = os.Exit
	}

	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}

	ch := make(chan os.Signal, 1)
	quit := make(chan struct{})
	signal.Notify(ch, signals...)

	go func() {
		select {
		case <-ch:
			r.Run()
			exit(1)
		case <-quit:
		}
	}()

	var once sync.Once

	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(quit)
		})
	}
}

// Name returns the descriptive name the hook was registered with.
func (h *Handle) Name() string {
	return h.name
}

// Remove deregisters the hook so that it does not run on exit. It fails with ErrExiting if the
// registry is already running its hooks, and with ErrNotRegistered if the hook was already removed.
func (h *Handle) Remove() error {
	r := h.registry

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrExiting
	}

	if _, ok := r.hooks[h.id]; !ok {
		return ErrNotRegistered
	}

	delete(r.hooks, h.id)

	return nil
}
