//go:build linux

package network

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/sys/unix"
)

// openSocket creates a non-blocking socket of the transport's type and starts connecting it to
// remote. For TCP the connect usually completes later, once the socket becomes writable.
func openSocket(transport Transport, remote netip.AddrPort) (int, error) {
	addr := remote.Addr().Unmap()

	family := unix.AF_INET
	if addr.Is6() {
		family = unix.AF_INET6
	}

	sotype := unix.SOCK_DGRAM
	if transport == TCP {
		sotype = unix.SOCK_STREAM
	}

	fd, err := unix.Socket(family, sotype|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("client: error creating socket: err=%w", err)
	}

	sa, err := sockaddr(netip.AddrPortFrom(addr, remote.Port()))
	if err != nil {
		_ = unix.Close(fd)
		return -1, err
	}

	if err := unix.Connect(fd, sa); err != nil && !errors.Is(err, unix.EINPROGRESS) {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("client: error connecting socket: remote=%s err=%w", remote, err)
	}

	return fd, nil
}

func sockaddr(addr netip.AddrPort) (unix.Sockaddr, error) {
	if addr.Addr().Is4() {
		return &unix.SockaddrInet4{Port: int(addr.Port()), Addr: addr.Addr().As4()}, nil
	}

	sa := &unix.SockaddrInet6{Port: int(addr.Port()), Addr: addr.Addr().As16()}
	if zone := addr.Addr().Zone(); zone != "" {
		iface, err := net.InterfaceByName(zone)
		if err != nil {
			return nil, fmt.Errorf("client: unknown address zone: zone=%s err=%w", zone, err)
		}

		sa.ZoneId = uint32(iface.Index)
	}

	return sa, nil
}

// socketError returns the pending error of a socket, e.g. the outcome of a non-blocking connect.
func socketError(fd int) error {
	code, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}

	if code != 0 {
		return unix.Errno(code)
	}

	return nil
}

// localAddr returns the local address a socket is bound to, or nil if it cannot be determined.
func localAddr(fd int, transport Transport) net.Addr {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil
	}

	var addr netip.AddrPort

	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		addr = netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		addr = netip.AddrPortFrom(netip.AddrFrom16(sa.Addr), uint16(sa.Port))
	default:
		return nil
	}

	return transport.Addr(addr)
}

func readSocket(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

func writeSocket(fd int, buf []byte) (int, error) {
	return unix.Write(fd, buf)
}

func closeSocket(fd int) error {
	return unix.Close(fd)
}

// wouldBlock reports whether a socket operation failed only because it would have blocked.
func wouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}
