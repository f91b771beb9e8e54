//go:build !linux

package network

import (
	"net"
	"net/netip"

	"dnsmux/internal/reactor"
)

func openSocket(transport Transport, remote netip.AddrPort) (int, error) {
	return -1, reactor.ErrUnsupportedPlatform
}

func socketError(fd int) error {
	return reactor.ErrUnsupportedPlatform
}

func localAddr(fd int, transport Transport) net.Addr {
	return nil
}

func readSocket(fd int, buf []byte) (int, error) {
	return 0, reactor.ErrUnsupportedPlatform
}

func writeSocket(fd int, buf []byte) (int, error) {
	return 0, reactor.ErrUnsupportedPlatform
}

func closeSocket(fd int) error {
	return nil
}

func wouldBlock(err error) bool {
	return false
}
