package trace

import (
	"encoding/hex"
	"net"

	"dnsmux/internal/log"
)

// PacketLogger receives a copy of every traced packet.
type PacketLogger interface {
	// Log records a packet, labeled by direction and transport (e.g. "UDP read"), with the
	// endpoints of the socket it traversed.
	Log(label string, local net.Addr, remote net.Addr, data []byte)
}

// Tracer dumps packets to the logger when trace logging is enabled, and forwards every packet to an
// optional PacketLogger regardless of the log level.
type Tracer struct {
	logger log.Logger
	sink   PacketLogger
}

// NewTracer creates a tracer. Either argument may be nil.
func NewTracer(logger log.Logger, sink PacketLogger) *Tracer {
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	return &Tracer{logger: logger, sink: sink}
}

// Trace records a single packet. It is safe to call on a nil Tracer.
func (t *Tracer) Trace(label string, local net.Addr, remote net.Addr, data []byte) {
	if t == nil {
		return
	}

	if t.logger.Level().Enables(log.Trace) {
		t.logger.Trace("trace: %s: local=%s remote=%s bytes=%d\n%s", label, addrString(local), addrString(remote), len(data), hex.Dump(data))
	}

	if t.sink != nil {
		t.sink.Log(label, local, remote, data)
	}
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return "-"
	}

	return addr.String()
}
