package daemon

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"ircgate/internal/config"
	"ircgate/internal/ipc"
	"ircgate/internal/logging"
)

// Descriptor numbers a worker finds its connections on.
const (
	WorkerIPCFD    = 3
	WorkerClientFD = 4
)

// spawner starts and reaps forkdaemon worker processes.
type spawner struct {
	binary     string
	env        []string
	configPath string
	logger     *slog.Logger
	wg         sync.WaitGroup
}

func newSpawner(cfg *config.Config, configPath string, logger *slog.Logger) *spawner {
	return &spawner{
		binary:     cfg.Daemon.WorkerBinary,
		configPath: configPath,
		logger:     logging.NewComponentLogger(logger, "spawner"),
	}
}

// WorkerArgs is the command line a worker is started with.
func WorkerArgs(configPath, remote string) []string {
	args := []string{
		"worker",
		"--ipc-fd", strconv.Itoa(WorkerIPCFD),
		"--client-fd", strconv.Itoa(WorkerClientFD),
		"--remote", remote,
	}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return args
}

// start launches a worker serving client and returns the supervisor end of
// its control socket. client is closed in this process either way.
func (s *spawner) start(client ipc.Conn, remote string) (*ipc.Socket, error) {
	defer client.Close()
	dup, err := unix.FcntlInt(uintptr(client.Fd()), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("duplicate client descriptor: %w", err)
	}
	clientFile := os.NewFile(uintptr(dup), "client")
	defer clientFile.Close()

	binary := s.binary
	if binary == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve worker executable: %w", err)
		}
		binary = self
	}

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socketpair: %w", err)
	}
	childFile := os.NewFile(uintptr(fds[1]), "ipc")
	defer childFile.Close()
	parent, err := ipc.NewSocket(fds[0])
	if err != nil {
		unix.Close(fds[0])
		return nil, err
	}

	cmd := exec.Command(binary, WorkerArgs(s.configPath, remote)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), s.env...)
	cmd.ExtraFiles = []*os.File{childFile, clientFile}
	if err := cmd.Start(); err != nil {
		_ = parent.Close()
		return nil, fmt.Errorf("start worker: %w", err)
	}

	pid := cmd.Process.Pid
	s.logger.Info("worker started",
		logging.String(logging.FieldEventType, "worker_started"),
		logging.Int("pid", pid),
		logging.String(logging.FieldRemote, remote),
	)
	s.wg.Add(1)
	go s.reap(cmd, remote)
	return parent, nil
}

func (s *spawner) reap(cmd *exec.Cmd, remote string) {
	defer s.wg.Done()
	err := cmd.Wait()
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "worker_exited"),
		logging.Int("pid", cmd.Process.Pid),
		logging.String(logging.FieldRemote, remote),
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		s.logger.Debug("worker exited", logging.Args(attrs...)...)
	case errors.As(err, &exitErr):
		attrs = append(attrs, logging.Int("exit_code", exitErr.ExitCode()))
		logging.WarnWithContext(s.logger, "worker exited with error", "worker_failed",
			append(attrs,
				logging.String(logging.FieldErrorHint, "check the worker log lines for this client"),
				logging.String(logging.FieldImpact, "client connection lost"),
			)...,
		)
	default:
		s.logger.Warn("worker wait failed", logging.Args(append(attrs, logging.Error(err))...)...)
	}
}

// wait blocks until every reaper has finished or grace elapses.
func (s *spawner) wait(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		s.logger.Info("workers still serving clients after supervisor stop",
			logging.String(logging.FieldEventType, "workers_detached"),
		)
	}
}

func (d *Daemon) spawnWorker(client ipc.Conn, remote string) error {
	parent, err := d.workers.start(client, remote)
	if err != nil {
		return err
	}
	if _, err := d.bus.AddWorker(parent, remote); err != nil {
		_ = parent.Close()
		return err
	}
	return nil
}
