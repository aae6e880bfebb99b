package ipc

import (
	"bytes"
	"errors"
	"fmt"
)

// MaxFrameLen bounds one message, terminator included.
const MaxFrameLen = 512

var terminator = []byte("\r\n")

var (
	// ErrNoFrame means no complete message is buffered yet; the connection
	// is still alive and should stay subscribed.
	ErrNoFrame = errors.New("ipc: no complete frame buffered")
	// ErrPartialFrame is the ErrNoFrame case where part of a message is
	// already buffered. The descriptor stays readable until the rest
	// arrives, so callers stall it on their Watcher.
	ErrPartialFrame = fmt.Errorf("%w: partial message", ErrNoFrame)
	// ErrPeerClosed means the peer went away or broke the framing rules.
	// The connection must be dropped.
	ErrPeerClosed = errors.New("ipc: peer closed")
)

// hangupReporter is implemented by connections that can tell a peer that
// stopped sending for good from one that is merely slow.
type hangupReporter interface {
	PeerHungUp() bool
}

// ReadFrame returns the next message on c without its terminator.
//
// Input is peeked first and only consumed once a full terminated message is
// buffered, so a partial message stays in the socket until the rest arrives
// and no per-connection buffer is needed. A message that has not ended
// within MaxFrameLen bytes is a protocol violation and reported as
// ErrPeerClosed, as is an unterminated message from a peer that has hung up.
func ReadFrame(c Conn) (string, error) {
	var peek [MaxFrameLen]byte
	n, err := c.Peek(peek[:])
	switch {
	case err != nil && isWouldBlock(err):
		return "", ErrNoFrame
	case err != nil:
		return "", fmt.Errorf("%w: %w", ErrPeerClosed, err)
	case n == 0:
		return "", ErrPeerClosed
	}

	eol := bytes.Index(peek[:n], terminator)
	if eol < 0 {
		if n >= MaxFrameLen {
			return "", fmt.Errorf("%w: no terminator within %d bytes", ErrPeerClosed, MaxFrameLen)
		}
		if h, ok := c.(hangupReporter); ok && h.PeerHungUp() {
			return "", fmt.Errorf("%w: hung up after %d bytes of an unterminated message", ErrPeerClosed, n)
		}
		return "", ErrPartialFrame
	}

	size := eol + len(terminator)
	msg := make([]byte, size)
	got, err := c.Read(msg)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPeerClosed, err)
	}
	if got != size {
		return "", fmt.Errorf("%w: short read %d of %d bytes", ErrPeerClosed, got, size)
	}
	return string(msg[:eol]), nil
}

// WriteFrame writes line with exactly one terminator. A short write is an
// error: the peer would otherwise see a truncated message.
func WriteFrame(c Conn, line string) error {
	frame := make([]byte, 0, len(line)+len(terminator))
	frame = append(frame, bytes.TrimSuffix([]byte(line), terminator)...)
	frame = append(frame, terminator...)
	n, err := c.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return fmt.Errorf("short write %d of %d bytes", n, len(frame))
	}
	return nil
}
