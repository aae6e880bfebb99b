package daemon

import (
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

const listenBacklog = 128

// listener is a non-blocking TCP listening socket the loop can watch and
// whose accepted descriptors can be handed to worker processes.
type listener struct {
	fd   int
	port int
}

func listen(address string, port int) (*listener, error) {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return nil, fmt.Errorf("listen address %q: %w", address, err)
	}

	var (
		domain int
		sa     unix.Sockaddr
	)
	if addr.Is4() || addr.Is4In6() {
		domain = unix.AF_INET
		sa = &unix.SockaddrInet4{Port: port, Addr: addr.Unmap().As4()}
	} else {
		domain = unix.AF_INET6
		sa = &unix.SockaddrInet6{Port: port, Addr: addr.As16()}
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("create listening socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", netip.AddrPortFrom(addr, uint16(port)), err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen: %w", err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("getsockname: %w", err)
	}
	l := &listener{fd: fd, port: port}
	switch a := bound.(type) {
	case *unix.SockaddrInet4:
		l.port = a.Port
	case *unix.SockaddrInet6:
		l.port = a.Port
	}
	return l, nil
}

// accept returns one pending client as a non-blocking, close-on-exec
// descriptor.
func (l *listener) accept() (int, string, error) {
	fd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, "", err
	}
	return fd, sockaddrString(sa), nil
}

func (l *listener) close() {
	if l.fd >= 0 {
		unix.Close(l.fd)
		l.fd = -1
	}
}
