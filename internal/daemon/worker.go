package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ircgate/internal/config"
	"ircgate/internal/ipc"
	"ircgate/internal/session"
)

// NewWorker builds a forkdaemon worker serving client, with uplink as its
// control connection to the supervisor. The worker ends with its client.
func NewWorker(cfg *config.Config, configPath string, uplink, client ipc.Conn, remote string, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("worker requires config")
	}
	if uplink == nil || client == nil {
		return nil, errors.New("worker requires uplink and client connections")
	}
	d := newDaemon(cfg, configPath, logger, ipc.RoleWorker)
	if err := d.initBus(); err != nil {
		return nil, err
	}

	s, err := session.New(session.Options{
		Conn:    client,
		Watcher: d.loop,
		Bus:     d.bus,
		Info:    sessionInfo(cfg),
		Remote:  remote,
		Logger:  d.logger,
		OnClose: d.sessionClosed,
	})
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	if s.Closed() {
		return nil, errors.New("client disconnected before the session started")
	}
	d.sessions = append(d.sessions, s)
	if err := d.bus.AttachUplink(uplink, s); err != nil {
		s.Close("uplink setup failed")
		return nil, err
	}
	return d, nil
}

// StartWorker arms the worker's loop; the worker is already serving.
func (d *Daemon) StartWorker(ctx context.Context) error {
	if d.role != ipc.RoleWorker {
		return errors.New("not a worker")
	}
	if d.running.Load() {
		return errors.New("worker already running")
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.running.Store(true)
	return nil
}
