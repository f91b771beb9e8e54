package network

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/eapache/queue"

	"dnsmux/internal/data"
	"dnsmux/internal/log"
	"dnsmux/internal/metrics"
	"dnsmux/internal/reactor"
	"dnsmux/internal/trace"
)

const (
	// DefaultQueryTimeout bounds queries whose context carries no deadline.
	DefaultQueryTimeout = 10 * time.Second
	// maxMessageSize is the largest payload either transport can carry.
	maxMessageSize = 65535
)

// Client exchanges query payloads with upstream servers. Every socket it opens is registered with a
// single reactor, which it owns and supplies with its task hooks.
type Client struct {
	reactor      *reactor.Reactor
	tracer       *trace.Tracer
	logger       log.Logger
	queryHooks   map[Transport]metrics.QueryHook
	queryTimeout time.Duration

	// pending holds sessions awaiting registration and cancellations, in submission order. It is
	// drained on the reactor goroutine.
	pending      *queue.Queue
	pendingMutex sync.Mutex

	// deadlines holds every registered session. It is only accessed from reactor tasks.
	deadlines *data.DeadlineQueue
}

// ClientOpts formalizes client configuration options.
type ClientOpts struct {
	// Reactor configures the reactor driving the client's sockets.
	Reactor reactor.Options
	// QueryTimeout bounds queries whose context carries no earlier deadline.
	QueryTimeout time.Duration
	// Tracer receives every payload written or read. May be nil.
	Tracer *trace.Tracer
	// Logger is the client logger. Defaults to the reactor logger.
	Logger log.Logger
	// UDPHook and TCPHook receive per-transport query metrics. Default to noop hooks.
	UDPHook metrics.QueryHook
	TCPHook metrics.QueryHook
}

// cancellation is a request, queued by a caller that stopped waiting, to fail a session.
type cancellation struct {
	session session
	err     error
}

// NewClient creates a client. The reactor goroutine is started by the first query.
func NewClient(opts ClientOpts) *Client {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = DefaultQueryTimeout
	}

	if opts.Logger == nil {
		opts.Logger = opts.Reactor.Logger
	}

	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}

	if opts.UDPHook == nil {
		opts.UDPHook = metrics.NewNoopQueryHook()
	}

	if opts.TCPHook == nil {
		opts.TCPHook = metrics.NewNoopQueryHook()
	}

	c := &Client{
		tracer:       opts.Tracer,
		logger:       opts.Logger,
		queryHooks:   map[Transport]metrics.QueryHook{UDP: opts.UDPHook, TCP: opts.TCPHook},
		queryTimeout: opts.QueryTimeout,
		pending:      queue.New(),
		deadlines:    data.NewDeadlineQueue(),
	}

	c.reactor = reactor.New(reactor.Hooks{
		TimeoutSweep:       c.sweepTimeouts,
		DrainRegistrations: c.drainPending,
		Shutdown:           c.closeSessions,
	}, opts.Reactor)

	return c
}

// Exchange sends payload to remote over the transport and returns the response payload. The query
// fails with ErrQueryTimeout once the earlier of the context deadline and the client's query
// timeout passes; cancelling ctx abandons it.
func (c *Client) Exchange(ctx context.Context, transport Transport, remote netip.AddrPort, payload []byte) ([]byte, error) {
	if len(payload) == 0 || len(payload) > maxMessageSize {
		return nil, fmt.Errorf("%w: transport=%s size=%d", ErrPayloadSize, transport, len(payload))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.queryTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	// A generation that is being closed is waited out rather than reported as a failed query.
	sel, err := c.reactor.AcquireContext(ctx)
	if err != nil {
		return nil, err
	}

	fd, err := openSocket(transport, remote)
	if err != nil {
		c.queryHooks[transport].EmitWriteError(transport.Addr(remote))
		return nil, err
	}

	ex := &exchange{
		client:    c,
		selector:  sel,
		transport: transport,
		remote:    remote,
		payload:   payload,
		deadline:  deadline,
		fd:        fd,
		result:    make(chan exchangeResult, 1),
	}

	var s session
	if transport == TCP {
		s = newTCPSession(ex)
	} else {
		s = newUDPSession(ex)
	}

	if err := c.submit(sel, s); errors.Is(err, reactor.ErrSelectorClosed) {
		// The generation closed after Acquire; its shutdown drain may already have run.
		c.abandon(sel, s, ErrClientClosed)
	}

	// The reactor delivers timeouts from its sweep; the timer only covers a reactor torn down
	// after the session was queued.
	timer := time.NewTimer(time.Until(deadline) + 2*time.Duration(reactor.MaxPollTimeout)*time.Millisecond)
	defer timer.Stop()

	select {
	case res := <-ex.result:
		return res.response, res.err
	case <-ctx.Done():
		c.abandon(sel, s, ctx.Err())
		return nil, ctx.Err()
	case <-timer.C:
		c.abandon(sel, s, ErrQueryTimeout)
		return nil, ErrQueryTimeout
	}
}

// Close fails every query in flight with ErrClientClosed and stops the reactor goroutine. The
// client remains usable; a later query starts a new reactor generation.
func (c *Client) Close() {
	c.reactor.Close()
}

// Shutdown is Close bounded by ctx.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.reactor.Shutdown(ctx)
}

// submit queues work for the reactor goroutine and wakes it up.
func (c *Client) submit(sel reactor.Selector, item interface{}) error {
	c.pendingMutex.Lock()
	c.pending.Add(item)
	c.pendingMutex.Unlock()

	if err := sel.Wakeup(); err != nil {
		c.logger.Debug("client: failed to wake up selector: err=%v", err)
		return err
	}

	return nil
}

// abandon fails a session its caller stopped waiting for. A session still queued is never seen by
// the reactor, so it is withdrawn and finished here; otherwise the reactor is asked to fail it.
func (c *Client) abandon(sel reactor.Selector, s session, err error) {
	if c.withdraw(s) {
		s.base().finish(nil, err)
		return
	}

	_ = c.submit(sel, cancellation{s, err})
}

// withdraw removes a session from the pending queue, reporting whether it was still queued.
func (c *Client) withdraw(s session) bool {
	c.pendingMutex.Lock()
	defer c.pendingMutex.Unlock()

	found := false

	for n := c.pending.Length(); n > 0; n-- {
		item := c.pending.Remove()
		if queued, ok := item.(session); ok && queued == s {
			found = true
			continue
		}

		c.pending.Add(item)
	}

	return found
}

// takePending removes every queued item.
func (c *Client) takePending() []interface{} {
	c.pendingMutex.Lock()
	defer c.pendingMutex.Unlock()

	items := make([]interface{}, 0, c.pending.Length())
	for c.pending.Length() > 0 {
		items = append(items, c.pending.Remove())
	}

	return items
}

// drainPending registers queued sessions and applies queued cancellations. It runs on the reactor
// goroutine between waits.
func (c *Client) drainPending() {
	for _, item := range c.takePending() {
		switch item := item.(type) {
		case session:
			c.register(item)
		case cancellation:
			item.session.base().finish(nil, item.err)
		}
	}
}

func (c *Client) register(s session) {
	ex := s.base()
	if ex.done {
		return
	}

	key, err := ex.selector.Register(ex.fd, s.initialInterest(), s)
	if err != nil {
		ex.finish(nil, fmt.Errorf("client: error registering socket: remote=%s err=%w", ex.remote, err))
		return
	}

	ex.key = key
	ex.item = c.deadlines.Push(s, ex.deadline)
	ex.local = localAddr(ex.fd, ex.transport)
}

// sweepTimeouts fails every registered session whose deadline has passed.
func (c *Client) sweepTimeouts() {
	for _, value := range c.deadlines.PopExpired(time.Now()) {
		ex := value.(session).base()
		ex.item = nil

		c.logger.Debug("client: query timed out: transport=%s remote=%s", ex.transport, ex.remote)
		ex.hook().EmitTimeout(ex.remoteAddr())
		ex.finish(nil, ErrQueryTimeout)
	}
}

// closeSessions fails queued and registered sessions with ErrClientClosed.
func (c *Client) closeSessions() {
	for _, item := range c.takePending() {
		switch item := item.(type) {
		case session:
			item.base().finish(nil, ErrClientClosed)
		case cancellation:
			item.session.base().finish(nil, item.err)
		}
	}

	for _, value := range c.deadlines.Drain() {
		ex := value.(session).base()
		ex.item = nil
		ex.finish(nil, ErrClientClosed)
	}
}
