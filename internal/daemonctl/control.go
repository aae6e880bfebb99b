package daemonctl

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"ircgate/internal/config"
)

// ErrNotRunning is returned when no listening gateway holds the lock.
var ErrNotRunning = errors.New("ircgate is not running")

// Status describes the listening gateway as seen from its state directory.
type Status struct {
	Running  bool
	PID      int
	PIDPath  string
	LockPath string
}

// StopResult captures how the gateway was stopped.
type StopResult struct {
	PID        int
	ForcedKill bool
}

// Probe reports whether a daemon or forkdaemon instance holds the lock
// in cfg's state directory, and its pid when the pid file is readable.
func Probe(cfg *config.Config) (Status, error) {
	if cfg == nil {
		return Status{}, errors.New("config is required")
	}
	status := Status{PIDPath: cfg.PIDPath(), LockPath: cfg.LockPath()}

	if _, err := os.Stat(status.LockPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return status, nil
		}
		return status, fmt.Errorf("inspect lock %q: %w", status.LockPath, err)
	}

	lock := flock.New(status.LockPath)
	acquired, err := lock.TryLock()
	if err != nil {
		return status, fmt.Errorf("probe lock %q: %w", status.LockPath, err)
	}
	if acquired {
		_ = lock.Unlock()
		return status, nil
	}
	status.Running = true

	pid, err := ReadPID(status.PIDPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return status, err
	}
	status.PID = pid
	return status, nil
}

// ReadPID parses the pid file written by a listening gateway.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %q: invalid contents %q", path, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// Rehash asks the running gateway to reload its configuration.
func Rehash(cfg *config.Config) (int, error) {
	pid, err := runningPID(cfg)
	if err != nil {
		return 0, err
	}
	if err := unix.Kill(pid, syscall.SIGHUP); err != nil {
		return 0, fmt.Errorf("signal gateway process %d: %w", pid, err)
	}
	return pid, nil
}

// Stop sends SIGTERM and waits up to grace for the process to exit, then
// falls back to SIGKILL and removes the stale pid file.
func Stop(cfg *config.Config, grace time.Duration) (StopResult, error) {
	pid, err := runningPID(cfg)
	if err != nil {
		return StopResult{}, err
	}
	result := StopResult{PID: pid}
	if err := unix.Kill(pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return result, nil
		}
		return result, fmt.Errorf("signal gateway process %d: %w", pid, err)
	}
	if waitForExit(pid, grace) {
		return result, nil
	}

	if err := unix.Kill(pid, syscall.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return result, fmt.Errorf("kill gateway process %d: %w", pid, err)
	}
	result.ForcedKill = true
	if err := os.Remove(cfg.PIDPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return result, fmt.Errorf("remove pid file %q: %w", cfg.PIDPath(), err)
	}
	return result, nil
}

func runningPID(cfg *config.Config) (int, error) {
	status, err := Probe(cfg)
	if err != nil {
		return 0, err
	}
	if !status.Running {
		return 0, ErrNotRunning
	}
	if status.PID <= 0 {
		return 0, fmt.Errorf("unable to determine gateway pid (pid file: %s)", status.PIDPath)
	}
	if status.PID == os.Getpid() {
		return 0, fmt.Errorf("refusing to signal current process (pid %d)", status.PID)
	}
	return status.PID, nil
}

func waitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if err := unix.Kill(pid, 0); errors.Is(err, unix.ESRCH) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
}
