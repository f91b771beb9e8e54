package network

import (
	"bytes"
	"fmt"

	"dnsmux/internal/reactor"
)

// udpSession exchanges a query over a connected datagram socket. Datagrams whose first two bytes
// differ from the query's are ignored, since they cannot be a response to it.
type udpSession struct {
	*exchange

	written bool
}

func newUDPSession(ex *exchange) *udpSession {
	return &udpSession{exchange: ex}
}

func (s *udpSession) initialInterest() reactor.Ops {
	return reactor.OpWrite
}

// ProcessReadyKey writes the query once the socket is writable, then reads datagrams until one
// matches it.
func (s *udpSession) ProcessReadyKey(key *reactor.Key) {
	if s.done {
		return
	}

	if key.Writable() && !s.written {
		s.write(key)
	}

	if key.Readable() && s.written {
		s.read()
	}
}

func (s *udpSession) write(key *reactor.Key) {
	if _, err := writeSocket(s.fd, s.payload); err != nil {
		if wouldBlock(err) {
			return
		}

		s.hook().EmitWriteError(s.remoteAddr())
		s.finish(nil, fmt.Errorf("client: error writing datagram: remote=%s err=%w", s.remote, err))

		return
	}

	s.written = true
	s.sent(s.payload)

	if err := key.SetInterest(reactor.OpRead); err != nil {
		s.finish(nil, fmt.Errorf("client: error watching for response: remote=%s err=%w", s.remote, err))
	}
}

func (s *udpSession) read() {
	buf := make([]byte, maxMessageSize)

	for !s.done {
		n, err := readSocket(s.fd, buf)
		if err != nil {
			if wouldBlock(err) {
				return
			}

			s.hook().EmitReadError(s.remoteAddr())
			s.finish(nil, fmt.Errorf("client: error reading datagram: remote=%s err=%w", s.remote, err))

			return
		}

		response := buf[:n]
		if len(s.payload) >= 2 && (n < 2 || !bytes.Equal(response[:2], s.payload[:2])) {
			s.client.tracer.Trace("UDP read (ignored)", s.local, s.remoteAddr(), response)
			s.client.logger.Debug("client: ignoring mismatched datagram: remote=%s bytes=%d", s.remote, n)

			continue
		}

		s.received(append([]byte(nil), response...))
	}
}
