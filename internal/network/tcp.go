package network

import (
	"encoding/binary"
	"fmt"
	"io"

	"dnsmux/internal/reactor"
)

type tcpState int

const (
	tcpConnecting tcpState = iota
	tcpWriting
	tcpReading
)

// tcpSession exchanges a query over a dedicated stream. Messages are framed with a two-byte
// big-endian length prefix; writes and reads may each span several readiness events.
type tcpSession struct {
	*exchange

	state tcpState

	// out is the framed query and written the number of its bytes already sent.
	out     []byte
	written int

	// header accumulates the response length prefix, body the response itself.
	header     [2]byte
	headerRead int
	body       []byte
	bodyRead   int
}

func newTCPSession(ex *exchange) *tcpSession {
	out := make([]byte, 2+len(ex.payload))
	binary.BigEndian.PutUint16(out, uint16(len(ex.payload)))
	copy(out[2:], ex.payload)

	return &tcpSession{exchange: ex, out: out}
}

func (s *tcpSession) initialInterest() reactor.Ops {
	return reactor.OpWrite
}

// ProcessReadyKey advances the session through connect, write and read as far as the socket allows.
func (s *tcpSession) ProcessReadyKey(key *reactor.Key) {
	if s.done {
		return
	}

	if s.state == tcpConnecting && key.Writable() {
		if err := socketError(s.fd); err != nil {
			s.hook().EmitWriteError(s.remoteAddr())
			s.finish(nil, fmt.Errorf("client: error connecting: remote=%s err=%w", s.remote, err))

			return
		}

		s.state = tcpWriting
	}

	if s.state == tcpWriting && key.Writable() {
		s.write(key)
	}

	if s.state == tcpReading && key.Readable() {
		s.read()
	}
}

func (s *tcpSession) write(key *reactor.Key) {
	for s.written < len(s.out) {
		n, err := writeSocket(s.fd, s.out[s.written:])
		if err != nil {
			if wouldBlock(err) {
				return
			}

			s.hook().EmitWriteError(s.remoteAddr())
			s.finish(nil, fmt.Errorf("client: error writing stream: remote=%s err=%w", s.remote, err))

			return
		}

		s.written += n
	}

	s.state = tcpReading
	s.sent(s.payload)

	if err := key.SetInterest(reactor.OpRead); err != nil {
		s.finish(nil, fmt.Errorf("client: error watching for response: remote=%s err=%w", s.remote, err))
	}
}

func (s *tcpSession) read() {
	for s.headerRead < len(s.header) {
		n, ok := s.fill(s.header[s.headerRead:])
		if !ok {
			return
		}

		s.headerRead += n
	}

	if s.body == nil {
		s.body = make([]byte, binary.BigEndian.Uint16(s.header[:]))
	}

	for s.bodyRead < len(s.body) {
		n, ok := s.fill(s.body[s.bodyRead:])
		if !ok {
			return
		}

		s.bodyRead += n
	}

	s.received(s.body)
}

// fill reads into buf. It returns false if the read would block or the session failed.
func (s *tcpSession) fill(buf []byte) (int, bool) {
	n, err := readSocket(s.fd, buf)
	if err != nil {
		if wouldBlock(err) {
			return 0, false
		}

		s.hook().EmitReadError(s.remoteAddr())
		s.finish(nil, fmt.Errorf("client: error reading stream: remote=%s err=%w", s.remote, err))

		return 0, false
	}

	if n == 0 {
		s.hook().EmitReadError(s.remoteAddr())
		s.finish(nil, fmt.Errorf("client: connection closed mid-response: remote=%s read=%d err=%w", s.remote, s.headerRead+s.bodyRead, io.ErrUnexpectedEOF))

		return 0, false
	}

	return n, true
}
