package daemon

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"

	"golang.org/x/sys/unix"

	"ircgate/internal/config"
	"ircgate/internal/ipc"
	"ircgate/internal/ircnick"
	"ircgate/internal/logging"
	"ircgate/internal/session"
)

// AddClient serves conn. A supervisor hands it to a new worker process; any
// other role starts a session in this process.
func (d *Daemon) AddClient(conn ipc.Conn, remote string) error {
	if d.role == ipc.RoleSupervisor {
		return d.spawnWorker(conn, remote)
	}
	s, err := session.New(session.Options{
		Conn:      conn,
		Watcher:   d.loop,
		Bus:       d.bus,
		Info:      sessionInfo(d.Config()),
		Remote:    remote,
		Logger:    d.logger,
		NickInUse: d.nickInUse,
		OnClose:   d.sessionClosed,
	})
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("start session: %w", err)
	}
	if !s.Closed() {
		d.sessions = append(d.sessions, s)
	}
	return nil
}

// SessionCount reports the live client sessions of this process.
func (d *Daemon) SessionCount() int {
	return len(d.sessions)
}

func (d *Daemon) liveSessions() []ipc.Session {
	out := make([]ipc.Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, s)
	}
	return out
}

func (d *Daemon) nickInUse(nick string, self *session.Session) bool {
	for _, s := range d.sessions {
		if s != self && ircnick.Equal(s.Nick(), nick) {
			return true
		}
	}
	return false
}

func (d *Daemon) sessionClosed(s *session.Session, reason string) {
	d.sessions = slices.DeleteFunc(d.sessions, func(other *session.Session) bool { return other == s })
	if d.Config().Daemon.RunMode == config.RunModeInetd || d.role == ipc.RoleWorker {
		d.Shutdown("client disconnected: " + reason)
	}
}

// acceptClients drains the listener's backlog.
func (d *Daemon) acceptClients() {
	for d.listener != nil {
		fd, remote, err := d.listener.accept()
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return
		}
		if errors.Is(err, unix.ECONNABORTED) || errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			logging.WarnWithContext(d.logger, "accept failed", "accept_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the open file limit"),
				logging.String(logging.FieldImpact, "new clients are refused until descriptors free up"),
			)
			return
		}
		conn, err := ipc.NewSocket(fd)
		if err != nil {
			_ = unix.Close(fd)
			d.logger.Warn("client socket setup failed", logging.Error(err))
			continue
		}
		d.logger.Debug("client accepted", logging.String(logging.FieldRemote, remote))
		if err := d.AddClient(conn, remote); err != nil {
			logging.WarnWithContext(d.logger, "client dropped", "client_dropped",
				logging.Error(err),
				logging.String(logging.FieldRemote, remote),
				logging.String(logging.FieldImpact, "client connection closed"),
			)
		}
	}
}

func sessionInfo(cfg *config.Config) session.Info {
	return session.Info{
		HostName:     cfg.Server.HostName,
		ServiceNick:  cfg.Server.ServiceNick,
		OperPassword: cfg.Server.OperPassword,
		MOTD:         cfg.Server.MOTD,
	}
}

// peerName renders the remote address of a connected socket, or a
// placeholder when fd is not one.
func peerName(fd int) string {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return "unknown"
	}
	return sockaddrString(sa)
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrFrom4(a.Addr).String()
	case *unix.SockaddrInet6:
		return netip.AddrFrom16(a.Addr).Unmap().String()
	case *unix.SockaddrUnix:
		if a.Name == "" {
			return "local"
		}
		return a.Name
	default:
		return "unknown"
	}
}
