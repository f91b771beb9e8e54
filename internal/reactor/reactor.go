package reactor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"lib.kevinlin.info/aperture/lib"

	"dnsmux/internal/exithook"
	"dnsmux/internal/log"
	"dnsmux/internal/metrics"
)

const (
	// DefaultPollTimeout is the default upper bound, in milliseconds, of a single wait.
	DefaultPollTimeout = 1000
	// MinPollTimeout is the smallest accepted poll timeout, in milliseconds.
	MinPollTimeout = 1
	// MaxPollTimeout is the largest accepted poll timeout, in milliseconds.
	MaxPollTimeout = 1000
)

// Hooks are the tasks the transport layer runs on the reactor goroutine. Any of them may be nil.
type Hooks struct {
	// TimeoutSweep runs after every wait that returned with no ready keys.
	TimeoutSweep func()
	// DrainRegistrations runs once per iteration before dispatch. Transports apply deferred
	// registrations and interest changes here.
	DrainRegistrations func()
	// Shutdown runs once per generation while it is being closed, before the selector is closed.
	Shutdown func()
}

// Options formalizes the configuration of a Reactor.
type Options struct {
	// PollTimeout is the upper bound, in milliseconds, of a single wait. It is validated by the
	// reactor goroutine on startup and must be within [MinPollTimeout, MaxPollTimeout].
	PollTimeout int
	// Logger receives lifecycle and failure logs. Defaults to a noop logger.
	Logger log.Logger
	// Metrics receives reactor events. Defaults to a noop hook.
	Metrics metrics.ReactorHook
	// ExitHooks is the registry on which each generation registers its exit-triggered close. Nil
	// disables exit hook registration.
	ExitHooks *exithook.Registry
	// OpenSelector allocates the selector of a new generation. Defaults to the platform selector.
	OpenSelector func() (Selector, error)
}

// DefaultOptions returns options with the default poll timeout, registering exit hooks on the
// process-wide registry.
func DefaultOptions() Options {
	return Options{
		PollTimeout: DefaultPollTimeout,
		ExitHooks:   exithook.Default,
	}
}

// Reactor owns at most one live generation: a selector, the goroutine driving it, its run flag and
// its exit hook. Generations are created lazily by Acquire and torn down by Close.
//
// Close must not be called from a hook or a key processor: it waits for the reactor goroutine to
// exit.
type Reactor struct {
	hooks   Hooks
	opts    Options
	logger  log.Logger
	metrics metrics.ReactorHook

	// mu serializes generation construction and teardown bookkeeping.
	mu          sync.Mutex
	gen         *generation
	generations uint64

	// taskMu is held while hooks or processors run, so the Shutdown hook never runs concurrently
	// with the reactor goroutine's own tasks.
	taskMu sync.Mutex
}

type generation struct {
	id       uint64
	selector Selector
	running  atomic.Bool
	exitHook *exithook.Handle
	lifetime func() time.Duration

	// closing is guarded by Reactor.mu.
	closing bool

	started  chan error
	done     chan struct{}
	released chan struct{}
}

// New creates a Reactor. No goroutine is started until the first Acquire.
func New(hooks Hooks, opts Options) *Reactor {
	if hooks.TimeoutSweep == nil {
		hooks.TimeoutSweep = func() {}
	}

	if hooks.DrainRegistrations == nil {
		hooks.DrainRegistrations = func() {}
	}

	if hooks.Shutdown == nil {
		hooks.Shutdown = func() {}
	}

	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}

	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopReactorHook()
	}

	if opts.OpenSelector == nil {
		opts.OpenSelector = OpenSelector
	}

	return &Reactor{
		hooks:   hooks,
		opts:    opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

// Acquire returns the selector of the live generation, creating the generation if there is none.
// On failure every partially created resource is released and no generation is left behind.
func (r *Reactor) Acquire() (Selector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g := r.gen; g != nil {
		if g.closing {
			return nil, ErrClosing
		}

		return g.selector, nil
	}

	selector, err := r.opts.OpenSelector()
	if err != nil {
		return nil, fmt.Errorf("reactor: error opening selector: err=%w", err)
	}

	r.generations++
	g := &generation{
		id:       r.generations,
		selector: selector,
		lifetime: lib.NewStopwatch().Elapsed,
		started:  make(chan error, 1),
		done:     make(chan struct{}),
		released: make(chan struct{}),
	}
	g.running.Store(true)

	r.logger.Debug("reactor: starting selector goroutine: generation=%d", g.id)

	go r.run(g)

	if err := <-g.started; err != nil {
		g.running.Store(false)
		<-g.done
		r.closeSelector(g)

		return nil, err
	}

	if r.opts.ExitHooks != nil {
		name := fmt.Sprintf("reactor generation %d close", g.id)

		hook, err := r.opts.ExitHooks.Add(name, func() {
			_ = r.shutdown(context.Background(), g, true)
		})
		if err != nil {
			g.running.Store(false)
			r.wakeup(g)
			r.closeSelector(g)
			<-g.done

			return nil, fmt.Errorf("reactor: error registering exit hook: err=%w", err)
		}

		g.exitHook = hook
	}

	r.gen = g
	r.metrics.EmitGenerationStart(g.id)

	return selector, nil
}

// AcquireContext is Acquire, except that while a generation is closing it waits for that
// generation to be released and then retries. It returns the context's error if ctx ends first.
func (r *Reactor) AcquireContext(ctx context.Context) (Selector, error) {
	for {
		selector, err := r.Acquire()
		if !errors.Is(err, ErrClosing) {
			return selector, err
		}

		r.mu.Lock()
		g := r.gen
		closing := g != nil && g.closing
		r.mu.Unlock()

		if !closing {
			continue
		}

		r.logger.Debug("reactor: waiting for closing generation to be released: generation=%d", g.id)

		if err := waitReleased(ctx, g); err != nil {
			return nil, err
		}
	}
}

// Close tears down the live generation, waiting for its goroutine to exit. It is idempotent and
// safe to call concurrently with itself and with the exit hook.
func (r *Reactor) Close() {
	_ = r.Shutdown(context.Background())
}

// Shutdown is Close bounded by ctx. If ctx ends before the reactor goroutine exits, Shutdown
// returns the context's error; teardown still completes in the background and Acquire returns
// ErrClosing until it does.
func (r *Reactor) Shutdown(ctx context.Context) error {
	return r.shutdown(ctx, nil, false)
}

// Generation returns the id of the live generation, or zero if there is none. Ids increase by one
// for every generation created.
func (r *Reactor) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.gen == nil {
		return 0
	}

	return r.gen.id
}

// shutdown closes the live generation, or only target if it is non-nil.
func (r *Reactor) shutdown(ctx context.Context, target *generation, fromExitHook bool) error {
	r.mu.Lock()

	g := r.gen
	if g == nil || (target != nil && g != target) {
		r.mu.Unlock()
		return nil
	}

	if g.closing {
		r.mu.Unlock()
		return waitReleased(ctx, g)
	}

	g.closing = true
	r.mu.Unlock()

	r.logger.Debug("reactor: closing selector: generation=%d exit_hook=%t", g.id, fromExitHook)

	g.running.Store(false)

	if !fromExitHook && g.exitHook != nil {
		if err := g.exitHook.Remove(); err != nil {
			r.logger.Warn("reactor: failed to remove exit hook, continuing close: err=%v", err)
		}
	}

	r.taskMu.Lock()
	r.invoke("shutdown", r.hooks.Shutdown)
	r.taskMu.Unlock()

	r.wakeup(g)
	r.closeSelector(g)

	select {
	case <-g.done:
		r.release(g)
		return nil
	case <-ctx.Done():
		r.logger.Warn("reactor: interrupted waiting for selector goroutine: generation=%d err=%v", g.id, ctx.Err())

		go func() {
			<-g.done
			r.release(g)
		}()

		return ctx.Err()
	}
}

// release clears the generation once its goroutine has exited.
func (r *Reactor) release(g *generation) {
	r.mu.Lock()
	if r.gen == g {
		r.gen = nil
	}
	r.mu.Unlock()

	close(g.released)

	r.metrics.EmitGenerationStop(g.id, g.lifetime())
	r.logger.Debug("reactor: generation released: generation=%d", g.id)
}

func (r *Reactor) wakeup(g *generation) {
	if err := g.selector.Wakeup(); err != nil {
		r.logger.Warn("reactor: failed to wake up selector: generation=%d err=%v", g.id, err)
	}
}

func (r *Reactor) closeSelector(g *generation) {
	if err := g.selector.Close(); err != nil {
		r.logger.Warn("reactor: failed to properly close selector: generation=%d err=%v", g.id, err)
	}
}

func waitReleased(ctx context.Context, g *generation) error {
	select {
	case <-g.released:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
