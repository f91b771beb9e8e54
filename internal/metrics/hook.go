package metrics

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cactus/go-statsd-client/v5/statsd"
)

// ReactorHook is a metrics hook interface for reporting events that occur inside the reactor: the
// lifecycle of each generation and the progress of its event loop.
type ReactorHook interface {
	// EmitGenerationStart reports that a new reactor generation started its event loop.
	EmitGenerationStart(generation uint64)

	// EmitGenerationStop reports that a reactor generation was torn down, with its total lifetime.
	EmitGenerationStop(generation uint64, lifetime time.Duration)

	// EmitSelect reports the outcome of a single wait on the selector: the number of keys that
	// became ready and the time spent blocked.
	EmitSelect(ready int, latency time.Duration)

	// EmitTimeoutSweep reports that a wait returned with no ready keys and the timeout sweep ran.
	EmitTimeoutSweep()

	// EmitSelectError reports a recoverable failure of the selector wait.
	EmitSelectError()

	// EmitProcessorFailure reports that a key processor or task hook panicked.
	EmitProcessorFailure()
}

// QueryHook is a metrics hook interface for reporting events related to queries exchanged with an
// upstream server over a single transport.
type QueryHook interface {
	// EmitQuerySent reports that a query was written to the upstream.
	EmitQuerySent(bytes int64, addr net.Addr)

	// EmitResponse reports that a complete response was read, with the end-to-end latency.
	EmitResponse(latency time.Duration, bytes int64, addr net.Addr)

	// EmitTimeout reports that a query expired before a response arrived.
	EmitTimeout(addr net.Addr)

	// EmitReadError reports the event that a socket read failed.
	EmitReadError(addr net.Addr)

	// EmitWriteError reports the event that a socket write failed.
	EmitWriteError(addr net.Addr)
}

// ProxyHook is a metrics hook interface for reporting events and latencies related to end-to-end
// forwarding of a client request to the upstream servers.
type ProxyHook interface {
	// EmitRequestSize reports the size of the forwarded request on the wire.
	EmitRequestSize(bytes int64, client net.Addr)

	// EmitResponseSize reports the size of the response written back to the client.
	EmitResponseSize(bytes int64, client net.Addr)

	// EmitRTT reports the total time spent between reading the request and writing the response.
	EmitRTT(latency time.Duration, client net.Addr)

	// EmitError reports a generic error that occurred while forwarding a request.
	EmitError()
}

// AsyncStatsdReactorHook is an implementation of ReactorHook that outputs metrics asynchronously to
// statsd.
type AsyncStatsdReactorHook struct {
	emitter *statsdEmitter
}

// AsyncStatsdQueryHook is an implementation of QueryHook that outputs metrics asynchronously to
// statsd.
type AsyncStatsdQueryHook struct {
	emitter *statsdEmitter
	source  string
}

// AsyncStatsdProxyHook is an implementation of ProxyHook that outputs metrics asynchronously to
// statsd.
type AsyncStatsdProxyHook struct {
	emitter *statsdEmitter
}

// NoopReactorHook implements the ReactorHook interface but noops on all emissions.
type NoopReactorHook struct{}

// NoopQueryHook implements the QueryHook interface but noops on all emissions.
type NoopQueryHook struct{}

// NoopProxyHook implements the ProxyHook interface but noops on all emissions.
type NoopProxyHook struct{}

// NewAsyncStatsdReactorHook creates a new reactor hook with the specified statsd address and sample
// rate.
func NewAsyncStatsdReactorHook(addr string, sampleRate float32, version string) (ReactorHook, error) {
	emitter, err := newStatsdEmitter(addr, sampleRate, version)
	if err != nil {
		return nil, err
	}

	return &AsyncStatsdReactorHook{emitter}, nil
}

// EmitGenerationStart statsd implementation
func (h *AsyncStatsdReactorHook) EmitGenerationStart(generation uint64) {
	go h.emitter.count("event.reactor.generation_start", 1, generationTag(generation))
}

// EmitGenerationStop statsd implementation
func (h *AsyncStatsdReactorHook) EmitGenerationStop(generation uint64, lifetime time.Duration) {
	go func() {
		h.emitter.count("event.reactor.generation_stop", 1, generationTag(generation))
		h.emitter.timing("latency.reactor.generation_lifetime", lifetime, generationTag(generation))
	}()
}

// EmitSelect statsd implementation
func (h *AsyncStatsdReactorHook) EmitSelect(ready int, latency time.Duration) {
	go func() {
		h.emitter.timing("latency.reactor.select", latency)
		h.emitter.gauge("gauge.reactor.ready_keys", int64(ready))
	}()
}

// EmitTimeoutSweep statsd implementation
func (h *AsyncStatsdReactorHook) EmitTimeoutSweep() {
	go h.emitter.count("event.reactor.timeout_sweep", 1)
}

// EmitSelectError statsd implementation
func (h *AsyncStatsdReactorHook) EmitSelectError() {
	go h.emitter.count("event.reactor.select_error", 1)
}

// EmitProcessorFailure statsd implementation
func (h *AsyncStatsdReactorHook) EmitProcessorFailure() {
	go h.emitter.count("event.reactor.processor_failure", 1)
}

// NewNoopReactorHook creates a noop implementation of ReactorHook.
func NewNoopReactorHook() ReactorHook {
	return &NoopReactorHook{}
}

// EmitGenerationStart noops.
func (h *NoopReactorHook) EmitGenerationStart(generation uint64) {}

// EmitGenerationStop noops.
func (h *NoopReactorHook) EmitGenerationStop(generation uint64, lifetime time.Duration) {}

// EmitSelect noops.
func (h *NoopReactorHook) EmitSelect(ready int, latency time.Duration) {}

// EmitTimeoutSweep noops.
func (h *NoopReactorHook) EmitTimeoutSweep() {}

// EmitSelectError noops.
func (h *NoopReactorHook) EmitSelectError() {}

// EmitProcessorFailure noops.
func (h *NoopReactorHook) EmitProcessorFailure() {}

// NewAsyncStatsdQueryHook creates a new query hook with the specified source, statsd address, and
// statsd sample rate. The source denotes the transport over which the queries are exchanged.
func NewAsyncStatsdQueryHook(source string, addr string, sampleRate float32, version string) (QueryHook, error) {
	emitter, err := newStatsdEmitter(addr, sampleRate, version)
	if err != nil {
		return nil, err
	}

	return &AsyncStatsdQueryHook{
		emitter: emitter,
		source:  source,
	}, nil
}

// EmitQuerySent statsd implementation
func (h *AsyncStatsdQueryHook) EmitQuerySent(bytes int64, addr net.Addr) {
	go func() {
		h.emitter.count(fmt.Sprintf("event.%s.query_sent", h.source), 1, addrTags(addr)...)
		h.emitter.size(fmt.Sprintf("size.%s.query", h.source), bytes, addrTags(addr)...)
	}()
}

// EmitResponse statsd implementation
func (h *AsyncStatsdQueryHook) EmitResponse(latency time.Duration, bytes int64, addr net.Addr) {
	go func() {
		h.emitter.timing(fmt.Sprintf("latency.%s.query_rtt", h.source), latency, addrTags(addr)...)
		h.emitter.size(fmt.Sprintf("size.%s.response", h.source), bytes, addrTags(addr)...)
	}()
}

// EmitTimeout statsd implementation
func (h *AsyncStatsdQueryHook) EmitTimeout(addr net.Addr) {
	go h.emitter.count(fmt.Sprintf("event.%s.query_timeout", h.source), 1, addrTags(addr)...)
}

// EmitReadError statsd implementation.
func (h *AsyncStatsdQueryHook) EmitReadError(addr net.Addr) {
	go h.emitter.count(fmt.Sprintf("event.%s.read_error", h.source), 1, addrTags(addr)...)
}

// EmitWriteError statsd implementation.
func (h *AsyncStatsdQueryHook) EmitWriteError(addr net.Addr) {
	go h.emitter.count(fmt.Sprintf("event.%s.write_error", h.source), 1, addrTags(addr)...)
}

// NewNoopQueryHook creates a noop implementation of QueryHook.
func NewNoopQueryHook() QueryHook {
	return &NoopQueryHook{}
}

// EmitQuerySent noops.
func (h *NoopQueryHook) EmitQuerySent(bytes int64, addr net.Addr) {}

// EmitResponse noops.
func (h *NoopQueryHook) EmitResponse(latency time.Duration, bytes int64, addr net.Addr) {}

// EmitTimeout noops.
func (h *NoopQueryHook) EmitTimeout(addr net.Addr) {}

// EmitReadError noops.
func (h *NoopQueryHook) EmitReadError(addr net.Addr) {}

// EmitWriteError noops.
func (h *NoopQueryHook) EmitWriteError(addr net.Addr) {}

// NewAsyncStatsdProxyHook creates a new proxy hook with the specified statsd address and sample
// rate.
func NewAsyncStatsdProxyHook(addr string, sampleRate float32, version string) (ProxyHook, error) {
	emitter, err := newStatsdEmitter(addr, sampleRate, version)
	if err != nil {
		return nil, err
	}

	return &AsyncStatsdProxyHook{emitter}, nil
}

// EmitRequestSize statsd implementation
func (h *AsyncStatsdProxyHook) EmitRequestSize(bytes int64, client net.Addr) {
	go h.emitter.size("size.proxy.request", bytes, addrTags(client)...)
}

// EmitResponseSize statsd implementation
func (h *AsyncStatsdProxyHook) EmitResponseSize(bytes int64, client net.Addr) {
	go h.emitter.size("size.proxy.response", bytes, addrTags(client)...)
}

// EmitRTT statsd implementation
func (h *AsyncStatsdProxyHook) EmitRTT(latency time.Duration, client net.Addr) {
	go h.emitter.timing("latency.proxy.tx_rtt", latency, addrTags(client)...)
}

// EmitError statsd implementation
func (h *AsyncStatsdProxyHook) EmitError() {
	go h.emitter.count("event.proxy.error", 1)
}

// NewNoopProxyHook creates a noop implementation of ProxyHook.
func NewNoopProxyHook() ProxyHook {
	return &NoopProxyHook{}
}

// EmitRequestSize noops.
func (h *NoopProxyHook) EmitRequestSize(bytes int64, client net.Addr) {}

// EmitResponseSize noops.
func (h *NoopProxyHook) EmitResponseSize(bytes int64, client net.Addr) {}

// EmitRTT noops.
func (h *NoopProxyHook) EmitRTT(latency time.Duration, client net.Addr) {}

// EmitError noops.
func (h *NoopProxyHook) EmitError() {}

func generationTag(generation uint64) statsd.Tag {
	return statsd.Tag{"generation", strconv.FormatUint(generation, 10)}
}
