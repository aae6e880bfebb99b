package ipc

import (
	"errors"
	"testing"

	"go.uber.org/goleak"
	"golang.org/x/sys/unix"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memConn is an in-memory Conn for exercising error paths sockets cannot
// produce on demand.
type memConn struct {
	fd       int
	buf      []byte
	readCap  int
	writeErr error
	written  []byte
	closed   int
}

func (c *memConn) Fd() int { return c.fd }

func (c *memConn) Peek(p []byte) (int, error) {
	if len(c.buf) == 0 {
		return 0, unix.EAGAIN
	}
	return copy(p, c.buf), nil
}

func (c *memConn) Read(p []byte) (int, error) {
	if c.readCap > 0 && len(p) > c.readCap {
		p = p[:c.readCap]
	}
	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

func (c *memConn) Write(p []byte) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.written = append(c.written, p...)
	return len(p), nil
}

func (c *memConn) Close() error {
	c.closed++
	return nil
}

func newPair(t *testing.T) (*Socket, *Socket) {
	t.Helper()
	a, b, err := Socketpair()
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func mustWrite(t *testing.T, c Conn, data string) {
	t.Helper()
	n, err := c.Write([]byte(data))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != len(data) {
		t.Fatalf("short write %d of %d", n, len(data))
	}
}

// readLine reads one frame from c, failing the test if none is buffered.
func readLine(t *testing.T, c Conn) string {
	t.Helper()
	line, err := ReadFrame(c)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	return line
}

func expectNoFrame(t *testing.T, c Conn) {
	t.Helper()
	line, err := ReadFrame(c)
	if !errors.Is(err, ErrNoFrame) {
		t.Fatalf("expected no frame, got %q err=%v", line, err)
	}
}

type fakeProcess struct {
	shutdowns []string
	rehashes  int
	rehashErr error
}

func (p *fakeProcess) Shutdown(reason string) { p.shutdowns = append(p.shutdowns, reason) }

func (p *fakeProcess) Rehash() error {
	p.rehashes++
	return p.rehashErr
}

type fakeSession struct {
	id       string
	nick     string
	loggedIn bool
	modes    string
	sent     []string
	killed   []string
}

func (s *fakeSession) ID() string { return s.id }
func (s *fakeSession) LoggedIn() bool { return s.loggedIn }
func (s *fakeSession) Nick() string { return s.nick }
func (s *fakeSession) Host() string { return "irc.example.net" }
func (s *fakeSession) ServiceNick() string { return "root" }

func (s *fakeSession) HasMode(mode byte) bool {
	for i := 0; i < len(s.modes); i++ {
		if s.modes[i] == mode {
			return true
		}
	}
	return false
}

func (s *fakeSession) Send(line string) error {
	s.sent = append(s.sent, line)
	return nil
}

func (s *fakeSession) Kill(reason string) { s.killed = append(s.killed, reason) }
