package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"ircgate/internal/config"
	"ircgate/internal/ipc"
	"ircgate/internal/logging"
	"ircgate/internal/session"
)

// Daemon coordinates one gateway process and enforces single-instance
// execution for listening run modes.
type Daemon struct {
	cfg        atomic.Pointer[config.Config]
	configPath string
	logger     *slog.Logger
	role       ipc.Role

	loop      *ipc.Loop
	bus       *ipc.Bus
	listener  *listener
	listenSub ipc.Subscription
	inject    *injector
	workers   *spawner

	// inetd mode serves this connection instead of listening.
	stdin ipc.Conn

	sessions []*session.Session

	lockPath string
	lock     *flock.Flock

	running      atomic.Bool
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithWorkerCommand sets the executable forkdaemon re-runs for every client
// and extra environment for it.
func WithWorkerCommand(binary string, env ...string) Option {
	return func(d *Daemon) {
		d.workers.binary = binary
		d.workers.env = append([]string(nil), env...)
	}
}

// WithClientConn replaces stdin as the inetd client connection.
func WithClientConn(conn ipc.Conn) Option {
	return func(d *Daemon) {
		d.stdin = conn
	}
}

// New constructs the daemon for cfg's run mode. configPath is re-read on
// rehash.
func New(cfg *config.Config, configPath string, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	role := ipc.RoleStandalone
	if cfg.Daemon.RunMode == config.RunModeForkDaemon {
		role = ipc.RoleSupervisor
	}
	d := newDaemon(cfg, configPath, logger, role)
	d.workers = newSpawner(cfg, configPath, d.logger)
	for _, opt := range opts {
		opt(d)
	}
	if err := d.initBus(); err != nil {
		return nil, err
	}
	return d, nil
}

func newDaemon(cfg *config.Config, configPath string, logger *slog.Logger, role ipc.Role) *Daemon {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(logging.String(logging.FieldRole, role.String()))
	d := &Daemon{
		configPath: configPath,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		role:       role,
		loop:       ipc.NewLoop(logger),
		lockPath:   cfg.LockPath(),
	}
	d.cfg.Store(cfg)
	d.lock = flock.New(d.lockPath)
	return d
}

func (d *Daemon) initBus() error {
	bus, err := ipc.NewBus(ipc.Options{
		Role:     d.role,
		Process:  d,
		Watcher:  d.loop,
		Logger:   d.logger,
		Sessions: d.liveSessions,
	})
	if err != nil {
		return fmt.Errorf("create ipc bus: %w", err)
	}
	d.bus = bus
	return nil
}

// Config returns the active configuration.
func (d *Daemon) Config() *config.Config {
	return d.cfg.Load()
}

// Role reports the process role.
func (d *Daemon) Role() ipc.Role {
	return d.role
}

// Port reports the bound listening port, or 0 when not listening.
func (d *Daemon) Port() int {
	if d.listener == nil {
		return 0
	}
	return d.listener.port
}

// Start acquires the lock and opens the listener or the inetd connection.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if d.role == ipc.RoleWorker {
		return errors.New("worker processes are started with NewWorker")
	}
	cfg := d.Config()

	if cfg.Listens() {
		if err := cfg.EnsureDirectories(); err != nil {
			return err
		}
		ok, err := d.lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return errors.New("another ircgate instance is already running")
		}
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	if err := d.startInject(); err != nil {
		d.abortStart()
		return err
	}

	switch cfg.Daemon.RunMode {
	case config.RunModeInetd:
		conn := d.stdin
		if conn == nil {
			stdin, err := ipc.NewSocket(int(os.Stdin.Fd()))
			if err != nil {
				d.abortStart()
				return fmt.Errorf("open inetd connection: %w", err)
			}
			conn = stdin
		}
		if err := d.AddClient(conn, peerName(conn.Fd())); err != nil {
			d.abortStart()
			return err
		}
	default:
		l, err := listen(cfg.Daemon.ListenAddress, cfg.Daemon.Port)
		if err != nil {
			d.abortStart()
			return err
		}
		d.listener = l
		d.listenSub = d.loop.Watch(l.fd, d.acceptClients)
	}

	d.running.Store(true)
	d.logger.Info("ircgate started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("run_mode", string(cfg.Daemon.RunMode)),
		logging.Int("port", d.Port()),
		logging.String("lock", d.lockPath),
	)
	return nil
}

func (d *Daemon) abortStart() {
	if d.inject != nil {
		d.loop.Cancel(d.inject.sub)
		d.inject.close()
		d.inject = nil
	}
	if d.lock.Locked() {
		_ = d.lock.Unlock()
	}
	d.cancel()
	d.ctx, d.cancel = nil, nil
}

// Run drives the loop until Shutdown or ctx cancellation, then stops.
func (d *Daemon) Run() error {
	if !d.running.Load() {
		return errors.New("daemon not started")
	}
	defer d.Stop()
	if err := d.loop.Run(d.ctx); err != nil {
		return fmt.Errorf("readiness loop: %w", err)
	}
	return nil
}

// Shutdown stops the loop. Only the first call has any effect. It is safe
// from any goroutine.
func (d *Daemon) Shutdown(reason string) {
	d.shutdownOnce.Do(func() {
		d.logger.Info("ircgate shutting down",
			logging.String(logging.FieldEventType, "shutdown_requested"),
			logging.String("reason", reason),
		)
		if d.cancel != nil {
			d.cancel()
		}
	})
}

// Done is closed once Shutdown has been requested.
func (d *Daemon) Done() <-chan struct{} {
	if d.ctx == nil {
		return nil
	}
	return d.ctx.Done()
}

// Rehash reloads the configuration file, keeping the run mode.
func (d *Daemon) Rehash() error {
	current := d.Config()
	if d.configPath == "" {
		return errors.New("no configuration file to reload")
	}
	next, changed, err := config.Reload(d.configPath, current)
	if err != nil {
		return err
	}
	if changed && d.role != ipc.RoleWorker {
		logging.WarnWithContext(d.logger, "cannot change run mode at runtime; keeping the original", "run_mode_unchanged",
			logging.String("run_mode", string(current.Daemon.RunMode)),
			logging.String(logging.FieldErrorHint, "restart ircgate to switch run modes"),
			logging.String(logging.FieldImpact, "run_mode setting ignored until restart"),
		)
	}
	d.cfg.Store(next)
	d.logger.Info("configuration reloaded",
		logging.String(logging.FieldEventType, "config_reloaded"),
		logging.String("path", d.configPath),
	)
	return nil
}

// Stop releases every connection and the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.running.Store(false)
	if d.cancel != nil {
		d.cancel()
	}

	if d.listener != nil {
		d.loop.Cancel(d.listenSub)
		d.listener.close()
		d.listener = nil
	}
	for _, s := range append([]*session.Session(nil), d.sessions...) {
		s.Kill("Server shutting down")
	}
	d.bus.Close()
	if d.inject != nil {
		d.loop.Cancel(d.inject.sub)
		d.inject.close()
	}
	if d.workers != nil {
		d.workers.wait(workerGrace)
	}
	if d.lock.Locked() {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release daemon lock", logging.Error(err))
		}
	}
	d.logger.Info("ircgate stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// workerGrace bounds how long Stop waits for workers that lost their
// supervisor to exit.
const workerGrace = 2 * time.Second

var _ ipc.Process = (*Daemon)(nil)
