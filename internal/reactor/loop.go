package reactor

import (
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/raven-go"
	"lib.kevinlin.info/aperture/lib"
)

// run is the body of a generation's goroutine.
func (r *Reactor) run(g *generation) {
	defer close(g.done)

	timeout := r.opts.PollTimeout
	if timeout < MinPollTimeout || timeout > MaxPollTimeout {
		g.started <- fmt.Errorf("%w: poll_timeout=%d", ErrInvalidPollTimeout, timeout)
		return
	}

	g.started <- nil

	r.loop(g, time.Duration(timeout)*time.Millisecond)

	r.logger.Debug("reactor: selector goroutine exited: generation=%d", g.id)
}

// loop waits, sweeps, drains and dispatches until the run flag is cleared or the selector is
// closed.
func (r *Reactor) loop(g *generation, timeout time.Duration) {
	for g.running.Load() {
		selectTimer := lib.NewStopwatch()

		ready, err := g.selector.Select(timeout)
		if err != nil {
			if errors.Is(err, ErrSelectorClosed) {
				return
			}

			r.logger.Error("reactor: a selection operation failed: generation=%d err=%v", g.id, err)
			r.metrics.EmitSelectError()
			raven.CaptureError(err, map[string]string{"component": "reactor"})

			continue
		}

		r.metrics.EmitSelect(ready, selectTimer.Elapsed())

		r.iterate(g, ready)
	}
}

// iterate runs the tasks of a single loop iteration following a successful wait.
func (r *Reactor) iterate(g *generation, ready int) {
	r.taskMu.Lock()
	defer r.taskMu.Unlock()

	if ready == 0 {
		r.metrics.EmitTimeoutSweep()
		r.invoke("timeout sweep", r.hooks.TimeoutSweep)
	}

	if !g.running.Load() {
		return
	}

	r.invoke("registration drain", r.hooks.DrainRegistrations)
	r.dispatch(g.selector.Ready())
}

// dispatch consumes every ready key, removing each from the set before its processor runs.
func (r *Reactor) dispatch(set *ReadySet) {
	for {
		key, ok := set.Pop()
		if !ok {
			return
		}

		if !key.Valid() {
			continue
		}

		r.process(key)
	}
}

// process invokes the key's processor, containing any panic to this key.
func (r *Reactor) process(key *Key) {
	defer func() {
		if v := recover(); v != nil {
			r.fail(fmt.Errorf("reactor: key processor panicked: fd=%d panic=%v", key.FD(), v))
		}
	}()

	key.Processor().ProcessReadyKey(key)
}

// invoke runs a task hook, containing any panic to this hook.
func (r *Reactor) invoke(name string, task func()) {
	defer func() {
		if v := recover(); v != nil {
			r.fail(fmt.Errorf("reactor: %s task panicked: panic=%v", name, v))
		}
	}()

	task()
}

func (r *Reactor) fail(err error) {
	r.logger.Error("%v", err)
	r.metrics.EmitProcessorFailure()
	raven.CaptureError(err, map[string]string{"component": "reactor"})
}
