package network

import (
	"net"
	"net/netip"
	"time"

	"lib.kevinlin.info/aperture/lib"

	"dnsmux/internal/data"
	"dnsmux/internal/metrics"
	"dnsmux/internal/reactor"
)

// session is the key processor of a single query's socket.
type session interface {
	reactor.KeyProcessor

	// base returns the state shared by every transport.
	base() *exchange

	// initialInterest returns the operations to register the socket for.
	initialInterest() reactor.Ops
}

type exchangeResult struct {
	response []byte
	err      error
}

// exchange is the transport-independent state of a query. Once the session is queued it is only
// accessed from reactor tasks.
type exchange struct {
	client    *Client
	selector  reactor.Selector
	transport Transport
	remote    netip.AddrPort
	local     net.Addr
	payload   []byte
	deadline  time.Time

	fd   int
	key  *reactor.Key
	item *data.Item

	// rtt measures the time from the query being written to the response being read.
	rtt func() time.Duration

	done   bool
	result chan exchangeResult
}

func (ex *exchange) base() *exchange {
	return ex
}

func (ex *exchange) hook() metrics.QueryHook {
	return ex.client.queryHooks[ex.transport]
}

func (ex *exchange) remoteAddr() net.Addr {
	return ex.transport.Addr(ex.remote)
}

// sent records that the query was fully written.
func (ex *exchange) sent(payload []byte) {
	ex.rtt = lib.NewStopwatch().Elapsed
	ex.client.tracer.Trace(ex.transport.String()+" write", ex.local, ex.remoteAddr(), payload)
	ex.hook().EmitQuerySent(int64(len(payload)), ex.remoteAddr())
}

// received records that the response was fully read, and completes the exchange with it.
func (ex *exchange) received(response []byte) {
	ex.client.tracer.Trace(ex.transport.String()+" read", ex.local, ex.remoteAddr(), response)

	var latency time.Duration
	if ex.rtt != nil {
		latency = ex.rtt()
	}

	ex.hook().EmitResponse(latency, int64(len(response)), ex.remoteAddr())
	ex.finish(response, nil)
}

// finish releases the socket and delivers the outcome. Only the first call has any effect.
func (ex *exchange) finish(response []byte, err error) {
	if ex.done {
		return
	}

	ex.done = true

	if ex.item != nil {
		ex.client.deadlines.Remove(ex.item)
		ex.item = nil
	}

	if ex.key != nil {
		if cerr := ex.key.Cancel(); cerr != nil {
			ex.client.logger.Warn("client: failed to cancel key: remote=%s err=%v", ex.remote, cerr)
		}
	}

	if cerr := closeSocket(ex.fd); cerr != nil {
		ex.client.logger.Warn("client: failed to close socket: remote=%s err=%v", ex.remote, cerr)
	}

	ex.result <- exchangeResult{response, err}
}
