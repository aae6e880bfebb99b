package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"ircgate/internal/ipc"
	"ircgate/internal/logging"
)

// Info is the server identity a session presents. It is captured when the
// session starts; a rehash affects sessions created afterwards.
type Info struct {
	HostName     string
	ServiceNick  string
	OperPassword string
	MOTD         string
}

// Options configures a Session.
type Options struct {
	Conn    ipc.Conn
	Watcher ipc.Watcher
	Bus     *ipc.Bus
	Info    Info
	// Remote labels the client in logs and in its user mask.
	Remote string
	Logger *slog.Logger
	// NickInUse reports whether another session already holds nick. Nil
	// means only the service nick is reserved.
	NickInUse func(nick string, self *Session) bool
	// OnClose runs once, after the connection has been released.
	OnClose func(s *Session, reason string)
}

// Session is one client connection. All methods run on the loop goroutine.
type Session struct {
	id      string
	conn    ipc.Conn
	watcher ipc.Watcher
	sub     ipc.Subscription
	bus     *ipc.Bus
	info    Info
	remote  string
	logger  *slog.Logger

	nickInUse func(nick string, self *Session) bool
	onClose   func(s *Session, reason string)

	nick     string
	user     string
	realName string
	modes    []byte
	loggedIn bool
	closed   bool
}

// New creates a session on conn and starts watching it for client input.
func New(opts Options) (*Session, error) {
	if opts.Conn == nil {
		return nil, errors.New("session requires a connection")
	}
	if opts.Watcher == nil {
		return nil, errors.New("session requires a watcher")
	}
	if opts.Bus == nil {
		return nil, errors.New("session requires an ipc bus")
	}
	id := uuid.NewString()
	s := &Session{
		id:        id,
		conn:      opts.Conn,
		watcher:   opts.Watcher,
		bus:       opts.Bus,
		info:      opts.Info,
		remote:    opts.Remote,
		nickInUse: opts.NickInUse,
		onClose:   opts.OnClose,
		logger: logging.NewComponentLogger(opts.Logger, "session").With(
			logging.String(logging.FieldSessionID, id),
			logging.String(logging.FieldRemote, opts.Remote),
		),
	}
	if s.remote == "" {
		s.remote = "unknown"
	}
	s.sub = s.watcher.Watch(s.conn.Fd(), s.OnReadable)
	s.logger.Debug("client connected")
	_ = s.Send(fmt.Sprintf(":%s NOTICE AUTH :ircgate initialized, please go on", s.info.HostName))
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) LoggedIn() bool { return s.loggedIn }

func (s *Session) Nick() string { return s.nick }

func (s *Session) Host() string { return s.info.HostName }

func (s *Session) ServiceNick() string { return s.info.ServiceNick }

// Remote is the client address given at creation.
func (s *Session) Remote() string { return s.remote }

// Closed reports whether the connection has been released.
func (s *Session) Closed() bool { return s.closed }

// HasMode reports whether user mode flag mode is set.
func (s *Session) HasMode(mode byte) bool {
	return strings.IndexByte(string(s.modes), mode) >= 0
}

// Modes renders the user modes as "+abc".
func (s *Session) Modes() string {
	return "+" + string(s.modes)
}

// Send writes one line to the client. A failed write closes the session.
func (s *Session) Send(line string) error {
	if s.closed {
		return fmt.Errorf("session %s: %w", s.id, ipc.ErrPeerClosed)
	}
	if err := ipc.WriteFrame(s.conn, line); err != nil {
		if !ipc.IsExpectedClose(err) {
			s.logger.Debug("client write failed", logging.Error(err))
		}
		s.Close("write error")
		return err
	}
	return nil
}

// Kill tells the client why it is being dropped and closes the connection.
func (s *Session) Kill(reason string) {
	if s.closed {
		return
	}
	_ = s.Send("ERROR :Closing link: " + reason)
	s.Close(reason)
}

// Close releases the connection. Only the first call has any effect.
func (s *Session) Close(reason string) {
	if s.closed {
		return
	}
	s.closed = true
	s.watcher.Cancel(s.sub)
	if err := s.conn.Close(); err != nil {
		s.logger.Debug("client close failed", logging.Error(err))
	}
	s.logger.Info("client disconnected",
		logging.String(logging.FieldEventType, "session_closed"),
		logging.String("nick", s.nick),
		logging.String("reason", reason),
	)
	if s.onClose != nil {
		s.onClose(s, reason)
	}
}

// OnReadable handles every complete line the client has sent.
func (s *Session) OnReadable() {
	for !s.closed {
		line, err := ipc.ReadFrame(s.conn)
		if errors.Is(err, ipc.ErrNoFrame) {
			if errors.Is(err, ipc.ErrPartialFrame) {
				s.watcher.Stall(s.sub)
			}
			return
		}
		if err != nil {
			if !ipc.IsExpectedClose(err) {
				s.logger.Debug("client read failed", logging.Error(err))
			}
			s.Close("connection closed")
			return
		}
		s.handle(line)
	}
}

func (s *Session) mask() string {
	user := s.user
	if user == "" {
		user = "unknown"
	}
	return fmt.Sprintf("%s!%s@%s", s.nick, user, s.remote)
}

func (s *Session) setMode(mode byte, on bool) bool {
	idx := strings.IndexByte(string(s.modes), mode)
	switch {
	case on && idx < 0:
		s.modes = append(s.modes, mode)
		return true
	case !on && idx >= 0:
		s.modes = append(s.modes[:idx], s.modes[idx+1:]...)
		return true
	}
	return false
}
