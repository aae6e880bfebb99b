package ipc

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// Conn is a non-blocking stream connection the loop can watch.
type Conn interface {
	Fd() int
	// Peek copies buffered input without consuming it.
	Peek(p []byte) (int, error)
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Socket is a Conn over a raw descriptor. Close is idempotent.
type Socket struct {
	fd     int
	closed bool
}

// NewSocket takes ownership of fd and switches it to non-blocking mode.
func NewSocket(fd int) (*Socket, error) {
	if fd < 0 {
		return nil, fmt.Errorf("invalid descriptor %d", fd)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("set nonblocking on fd %d: %w", fd, err)
	}
	return &Socket{fd: fd}, nil
}

// Socketpair returns both ends of a connected local stream socket.
func Socketpair() (*Socket, *Socket, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	a, err := NewSocket(fds[0])
	if err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, nil, err
	}
	b, err := NewSocket(fds[1])
	if err != nil {
		a.Close()
		unix.Close(fds[1])
		return nil, nil, err
	}
	return a, b, nil
}

func (s *Socket) Fd() int { return s.fd }

func (s *Socket) Peek(p []byte) (int, error) {
	if s.closed {
		return 0, unix.EBADF
	}
	for {
		n, _, err := unix.Recvfrom(s.fd, p, unix.MSG_PEEK|unix.MSG_DONTWAIT)
		if err == unix.EINTR {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

func (s *Socket) Read(p []byte) (int, error) {
	if s.closed {
		return 0, unix.EBADF
	}
	for {
		n, err := unix.Read(s.fd, p)
		if err == unix.EINTR {
			continue
		}
		if n < 0 {
			n = 0
		}
		if n == 0 && err == nil && len(p) > 0 {
			return 0, io.EOF
		}
		return n, err
	}
}

// Write sends p without raising SIGPIPE. It never blocks, so a full socket
// buffer shows up as a short write or EAGAIN.
func (s *Socket) Write(p []byte) (int, error) {
	if s.closed {
		return 0, unix.EBADF
	}
	for {
		n, err := unix.SendmsgN(s.fd, p, nil, nil, unix.MSG_NOSIGNAL|unix.MSG_DONTWAIT)
		if err == unix.EINTR {
			continue
		}
		if err == unix.ENOTSOCK {
			n, err = unix.Write(s.fd, p)
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

// PeerHungUp reports whether the remote end will send nothing more.
func (s *Socket) PeerHungUp() bool {
	if s.closed {
		return true
	}
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLRDHUP}}
	for {
		n, err := unix.Poll(fds, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return true
		}
		return n > 0 && fds[0].Revents&(unix.POLLRDHUP|unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0
	}
}

func (s *Socket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return unix.Close(s.fd)
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// IsExpectedClose reports whether err is an ordinary end of a connection
// rather than something worth a warning.
func IsExpectedClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, ErrPeerClosed) {
		return true
	}
	return errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET) || errors.Is(err, unix.EBADF)
}
