package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"ircgate/internal/config"
	"ircgate/internal/daemon"
	"ircgate/internal/ipc"
	"ircgate/internal/logging"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// ConfigPath is re-read on rehash and handed to workers.
	ConfigPath  string
	LogLevel    string
	Development bool
}

// Run starts the gateway in cfg's run mode and blocks until it stops.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger(cfg, opts)
	if err != nil {
		return err
	}
	runID := uuid.NewString()
	logger = logger.With(logging.String(logging.FieldRunID, runID))
	logStartup(logger, cfg, opts)

	if cfg.Listens() {
		if err := cfg.EnsureDirectories(); err != nil {
			return err
		}
	}

	d, err := daemon.New(cfg, opts.ConfigPath, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check listen_address, port and that no other instance is running"),
		)
		return err
	}

	if cfg.Listens() {
		pidPath := cfg.PIDPath()
		if err := writePIDFile(pidPath); err != nil {
			d.Stop()
			return fmt.Errorf("write pid file: %w", err)
		}
		defer os.Remove(pidPath)
	}

	stopHUP := forwardRehash(d, logger)
	defer stopHUP()

	return d.Run()
}

// RunWorker serves one forkdaemon client on inherited descriptors.
func RunWorker(cmdCtx context.Context, cfg *config.Config, opts Options, ipcFD, clientFD int, remote string) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGTERM)
	defer cancel()
	// The terminal's interrupt belongs to the supervisor.
	signal.Ignore(syscall.SIGINT, syscall.SIGHUP)

	logger, err := newLogger(cfg, opts)
	if err != nil {
		return err
	}
	logger = logger.With(logging.Int("pid", os.Getpid()))

	uplink, err := ipc.NewSocket(ipcFD)
	if err != nil {
		return fmt.Errorf("open control connection: %w", err)
	}
	client, err := ipc.NewSocket(clientFD)
	if err != nil {
		_ = uplink.Close()
		return fmt.Errorf("open client connection: %w", err)
	}

	d, err := daemon.NewWorker(cfg, opts.ConfigPath, uplink, client, remote, logger)
	if err != nil {
		_ = uplink.Close()
		_ = client.Close()
		return fmt.Errorf("create worker: %w", err)
	}
	if err := d.StartWorker(signalCtx); err != nil {
		return err
	}
	logger.Debug("worker serving client", logging.String(logging.FieldRemote, remote))
	return d.Run()
}

func newLogger(cfg *config.Config, opts Options) (*slog.Logger, error) {
	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		Development: opts.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

// forwardRehash turns SIGHUP into a REHASH control command until the
// returned function is called.
func forwardRehash(d *daemon.Daemon, logger *slog.Logger) func() {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-hup:
				if err := d.Inject("REHASH"); err != nil {
					logger.Warn("rehash signal dropped", logging.Error(err))
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(hup)
		close(done)
		wg.Wait()
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logStartup(logger *slog.Logger, cfg *config.Config, opts Options) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("config_path", opts.ConfigPath),
		logging.String("run_mode", string(cfg.Daemon.RunMode)),
		logging.String("listen_address", cfg.Daemon.ListenAddress),
		logging.Int("port", cfg.Daemon.Port),
		logging.String("host_name", cfg.Server.HostName),
		logging.Bool("oper_enabled", cfg.Server.OperPassword != ""),
		logging.String("state_dir", cfg.Daemon.StateDir),
	)
}
