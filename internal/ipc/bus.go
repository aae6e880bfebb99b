package ipc

import (
	"errors"
	"fmt"
	"log/slog"

	"ircgate/internal/ircline"
	"ircgate/internal/logging"
)

// Options configures a Bus.
type Options struct {
	Role    Role
	Process Process
	Watcher Watcher
	Logger  *slog.Logger
	// Sessions lists the client sessions of this process. A standalone bus
	// runs worker commands against each of them.
	Sessions func() []Session
}

// Bus holds the process role and routes control commands accordingly. It is
// the only place that branches on the role.
type Bus struct {
	role     Role
	proc     Process
	watcher  Watcher
	logger   *slog.Logger
	sessions func() []Session

	peers *Registry // supervisor only

	uplink        *Peer // worker only
	uplinkSession Session
}

// NewBus validates opts and builds the bus for the configured role.
func NewBus(opts Options) (*Bus, error) {
	if opts.Process == nil {
		return nil, errors.New("ipc bus requires a process")
	}
	switch opts.Role {
	case RoleStandalone:
	case RoleSupervisor, RoleWorker:
		if opts.Watcher == nil {
			return nil, fmt.Errorf("ipc bus in %s role requires a watcher", opts.Role)
		}
	default:
		return nil, fmt.Errorf("unknown role %s", opts.Role)
	}
	b := &Bus{
		role:     opts.Role,
		proc:     opts.Process,
		watcher:  opts.Watcher,
		logger:   logging.NewComponentLogger(opts.Logger, "ipc").With(logging.String(logging.FieldRole, opts.Role.String())),
		sessions: opts.Sessions,
	}
	if opts.Role == RoleSupervisor {
		b.peers = NewRegistry(opts.Watcher, b.onWorkerLine, opts.Logger)
	}
	return b, nil
}

// Role reports the fixed process role.
func (b *Bus) Role() Role { return b.role }

// Peers is the worker registry; nil unless the bus is a supervisor.
func (b *Bus) Peers() *Registry { return b.peers }

// AddWorker registers the supervisor end of a worker's control socket.
func (b *Bus) AddWorker(conn Conn, name string) (*Peer, error) {
	if b.role != RoleSupervisor {
		return nil, fmt.Errorf("cannot add worker in %s role", b.role)
	}
	return b.peers.Add(conn, name), nil
}

// AttachUplink connects a worker bus to its supervisor. Commands arriving on
// conn run against sess.
func (b *Bus) AttachUplink(conn Conn, sess Session) error {
	if b.role != RoleWorker {
		return fmt.Errorf("cannot attach uplink in %s role", b.role)
	}
	if b.uplink != nil && !b.uplink.removed {
		return errors.New("uplink already attached")
	}
	p := &Peer{id: 1, name: "supervisor", conn: conn}
	p.sub = b.watcher.Watch(conn.Fd(), func() { b.onUplinkReadable(p) })
	b.uplink = p
	b.uplinkSession = sess
	return nil
}

// UplinkConnected reports whether a worker still has its supervisor.
func (b *Bus) UplinkConnected() bool {
	return b.uplink != nil && !b.uplink.removed
}

// Close releases every peer connection and the uplink.
func (b *Bus) Close() {
	if b.peers != nil {
		b.peers.Close()
	}
	b.dropUplink()
}

// Route parses line and runs it against t.
func (b *Bus) Route(t *Table, sess Session, line string) Outcome {
	line = ircline.Trim(line)
	argv := ircline.Parse(line)
	if len(argv) == 0 {
		return Continue
	}
	return b.dispatch(t, sess, line, argv)
}

func (b *Bus) dispatch(t *Table, sess Session, line string, argv []string) Outcome {
	cmd, ok := t.Lookup(argv[0])
	if !ok {
		b.logger.Debug("ignoring unknown control command",
			logging.String(logging.FieldCommand, argv[0]),
			logging.String("table", t.side.String()),
		)
		return Continue
	}
	if len(argv)-1 < cmd.MinArgs {
		b.logger.Debug("ignoring control command with too few arguments",
			logging.String(logging.FieldCommand, cmd.Name),
			logging.Int("args", len(argv)-1),
			logging.Int("min_args", cmd.MinArgs),
		)
		return Continue
	}
	if cmd.Routing == Forward {
		if t.side == RoleSupervisor {
			b.SendToWorkersRaw(line)
		} else {
			b.SendToSupervisorRaw(line)
		}
		return Continue
	}
	return cmd.Handler(b, sess, argv)
}

// SendToSupervisor delivers argv to the supervisor side: over the uplink in a
// worker, as a local call everywhere else.
func (b *Bus) SendToSupervisor(argv []string) {
	if len(argv) == 0 {
		return
	}
	line := ircline.Build(argv)
	if b.role == RoleWorker {
		b.writeUplink(line)
		return
	}
	b.dispatch(supervisorTable, nil, ircline.Trim(line), argv)
}

// SendToSupervisorRaw is SendToSupervisor for an already encoded line.
func (b *Bus) SendToSupervisorRaw(line string) {
	if b.role == RoleWorker {
		b.writeUplink(line)
		return
	}
	b.Route(supervisorTable, nil, line)
}

// SendToWorkers delivers argv to the worker side: every peer of a
// supervisor, or every local session of a standalone process.
func (b *Bus) SendToWorkers(argv []string) {
	if len(argv) == 0 {
		return
	}
	line := ircline.Build(argv)
	switch b.role {
	case RoleSupervisor:
		b.peers.Broadcast(line)
	case RoleStandalone:
		line = ircline.Trim(line)
		for _, sess := range b.localSessions() {
			b.dispatch(workerTable, sess, line, argv)
		}
	default:
		b.logger.Debug("worker has no workers; dropping command", logging.String(logging.FieldCommand, argv[0]))
	}
}

// SendToWorkersRaw is SendToWorkers for an already encoded line.
func (b *Bus) SendToWorkersRaw(line string) {
	switch b.role {
	case RoleSupervisor:
		b.peers.Broadcast(line)
	case RoleStandalone:
		for _, sess := range b.localSessions() {
			b.Route(workerTable, sess, line)
		}
	default:
		b.logger.Debug("worker has no workers; dropping line")
	}
}

func (b *Bus) localSessions() []Session {
	if b.sessions == nil {
		return nil
	}
	return b.sessions()
}

func (b *Bus) onWorkerLine(p *Peer, line string) {
	b.logger.Debug("control command from worker",
		logging.Uint64(logging.FieldPeer, p.id),
		logging.String("peer_name", p.name),
	)
	b.Route(supervisorTable, nil, line)
}

func (b *Bus) onUplinkReadable(p *Peer) {
	if p.removed {
		return
	}
	line, err := ReadFrame(p.conn)
	if errors.Is(err, ErrNoFrame) {
		if errors.Is(err, ErrPartialFrame) {
			b.watcher.Stall(p.sub)
		}
		return
	}
	if err != nil {
		logging.WarnWithContext(b.logger, "lost control connection to supervisor", "uplink_lost",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check whether the supervisor process is still running"),
			logging.String(logging.FieldImpact, "operator commands no longer reach this session"),
		)
		b.dropUplink()
		return
	}
	if outcome := b.Route(workerTable, b.uplinkSession, line); outcome == Teardown {
		b.logger.Debug("control command ended the session", logging.String("outcome", outcome.String()))
	}
}

func (b *Bus) writeUplink(line string) {
	if !b.UplinkConnected() {
		b.logger.Debug("no supervisor connection; dropping line")
		return
	}
	err := WriteFrame(b.uplink.conn, line)
	switch {
	case err == nil:
	case isWouldBlock(err):
		// Nothing was written, so the stream is still framed.
		logging.WarnWithContext(b.logger, "supervisor connection busy; dropping control command", "uplink_busy",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the supervisor is not reading its control connections"),
			logging.String(logging.FieldImpact, "control command not delivered"),
		)
	default:
		logging.WarnWithContext(b.logger, "write to supervisor failed", "uplink_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "control command not delivered"),
		)
		b.dropUplink()
	}
}

func (b *Bus) dropUplink() {
	p := b.uplink
	if p == nil || p.removed {
		return
	}
	p.removed = true
	b.watcher.Cancel(p.sub)
	_ = p.conn.Close()
}
