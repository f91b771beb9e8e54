//go:generate go run golang.org/x/tools/cmd/stringer -type=Transport

package network

import (
	"net"
	"net/netip"
	"strings"
)

// Transport is the socket type used to exchange a query with an upstream.
type Transport int

const (
	// UDP exchanges a single datagram in each direction over a connected socket.
	UDP Transport = iota
	// TCP exchanges a single length-prefixed message in each direction over a dedicated stream.
	TCP
)

// ParseTransport parses a Transport constant from its stringified representation in a
// case-insensitive manner.
func ParseTransport(transport string) (Transport, bool) {
	for _, known := range []Transport{UDP, TCP} {
		if strings.EqualFold(strings.TrimSpace(transport), known.String()) {
			return known, true
		}
	}

	return UDP, false
}

// Addr returns addr as a net.Addr of the type matching the transport.
func (t Transport) Addr(addr netip.AddrPort) net.Addr {
	if t == TCP {
		return net.TCPAddrFromAddrPort(addr)
	}

	return net.UDPAddrFromAddrPort(addr)
}
