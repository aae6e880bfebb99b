package daemon

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
	"golang.org/x/sys/unix"

	"ircgate/internal/config"
	"ircgate/internal/ipc"
	"ircgate/internal/testsupport"
)

const helperEnv = "IRCGATE_TEST_WORKER"

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		os.Exit(runHelperWorker())
	}
	goleak.VerifyTestMain(m)
}

// runHelperWorker stands in for `ircgate worker` when the test binary is
// re-executed by the spawner.
func runHelperWorker() int {
	args := os.Args[1:]
	if len(args) < 5 || !slices.Equal(args[:5], []string{"worker", "--ipc-fd", "3", "--client-fd", "4"}) {
		return 2
	}
	if _, err := unix.Write(WorkerClientFD, []byte("hello from worker\r\n")); err != nil {
		return 3
	}
	if _, err := unix.Write(WorkerIPCFD, []byte("LILO :helper logged in\r\n")); err != nil {
		return 4
	}
	buf := make([]byte, 512)
	for {
		n, err := unix.Read(WorkerIPCFD, buf)
		if err != nil || n <= 0 {
			return 0
		}
		if strings.Contains(string(buf[:n]), "DIE") {
			return 0
		}
	}
}

func testConfig(t *testing.T, mode config.RunMode) *config.Config {
	t.Helper()
	return testsupport.NewConfig(t, testsupport.WithRunMode(mode))
}

// pump drives the loop on the test goroutine until cond holds.
func pump(t *testing.T, d *Daemon, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out driving the loop")
		}
		if err := d.loop.RunOnce(20 * time.Millisecond); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
	}
}

func stopped(d *Daemon) func() bool {
	return func() bool {
		select {
		case <-d.Done():
			return true
		default:
			return false
		}
	}
}

func dial(t *testing.T, d *Daemon) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", d.Port()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	return conn, bufio.NewReader(conn)
}

func readUntil(t *testing.T, r *bufio.Reader, substr string) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("waiting for %q: %v", substr, err)
		}
		if strings.Contains(line, substr) {
			return line
		}
	}
}

func TestStandaloneServesClients(t *testing.T) {
	d, err := New(testConfig(t, config.RunModeDaemon), "", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)
	if d.Role() != ipc.RoleStandalone || d.Port() == 0 {
		t.Fatalf("unexpected role %s port %d", d.Role(), d.Port())
	}

	conn, r := dial(t, d)
	pump(t, d, func() bool { return d.SessionCount() == 1 })
	readUntil(t, r, "NOTICE AUTH")

	if _, err := conn.Write([]byte("NICK alice\r\nUSER a 0 * :A\r\nOPER alice hunter2\r\nDIE\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	pump(t, d, stopped(d))
	readUntil(t, r, " 001 alice ")
	readUntil(t, r, " 381 alice ")

	d.Stop()
	readUntil(t, r, "ERROR :Closing link: Server shutting down")
	if d.SessionCount() != 0 {
		t.Fatalf("sessions left after stop: %d", d.SessionCount())
	}
}

func TestSecondInstanceRefused(t *testing.T) {
	cfg := testConfig(t, config.RunModeDaemon)
	first, err := New(cfg, "", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(first.Stop)

	second, err := New(cfg, "", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("expected second instance to be refused")
	}
	if err := first.Start(context.Background()); err == nil {
		t.Fatal("expected double start to fail")
	}
}

func TestInetdEndsWithClient(t *testing.T) {
	server, client, err := ipc.Socketpair()
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	d, err := New(testConfig(t, config.RunModeInetd), "", nil, WithClientConn(server))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if d.Port() != 0 || d.SessionCount() != 1 {
		t.Fatalf("inetd should serve one session without listening: port=%d sessions=%d", d.Port(), d.SessionCount())
	}
	if d.lock.Locked() {
		t.Fatal("inetd mode should not take the instance lock")
	}

	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := d.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !stopped(d)() {
		t.Fatal("daemon should stop when its only client leaves")
	}
}

func TestRehashKeepsRunMode(t *testing.T) {
	base := testConfig(t, config.RunModeDaemon)
	path := filepath.Join(testsupport.BaseDir(base), "ircgate.toml")
	write := func(mode config.RunMode, motd string) {
		next := *base
		next.Daemon.RunMode = mode
		next.Server.MOTD = motd
		testsupport.WriteConfigTo(t, path, &next)
	}
	write(config.RunModeDaemon, "first")
	t.Setenv("IRCGATE_RUN_MODE", "")
	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Daemon.Port = 0

	d, err := New(cfg, path, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)

	write(config.RunModeForkDaemon, "second")
	if err := d.Inject("REHASH"); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	pump(t, d, func() bool { return d.Config().Server.MOTD == "second" })
	if d.Config().Daemon.RunMode != config.RunModeDaemon {
		t.Fatalf("run mode changed to %q", d.Config().Daemon.RunMode)
	}
	if d.Role() != ipc.RoleStandalone {
		t.Fatalf("role changed to %s", d.Role())
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove config: %v", err)
	}
	if err := d.Rehash(); err == nil {
		t.Fatal("rehash without a config file should fail")
	}
	if d.Config().Server.MOTD != "second" {
		t.Fatal("failed rehash must keep the previous configuration")
	}
}

func TestWorkerFollowsUplink(t *testing.T) {
	uplinkLocal, uplinkRemote, err := ipc.Socketpair()
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	clientLocal, clientRemote, err := ipc.Socketpair()
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	t.Cleanup(func() {
		_ = uplinkRemote.Close()
		_ = clientRemote.Close()
	})

	d, err := NewWorker(testConfig(t, config.RunModeForkDaemon), "", uplinkLocal, clientLocal, "127.0.0.1", nil)
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	if err := d.StartWorker(context.Background()); err != nil {
		t.Fatalf("StartWorker: %v", err)
	}
	t.Cleanup(d.Stop)
	if err := d.Start(context.Background()); err == nil {
		t.Fatal("Start must refuse a worker")
	}

	if _, err := clientRemote.Write([]byte("NICK alice\r\nUSER a 0 * :A\r\n")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	var up string
	pump(t, d, func() bool {
		line, err := ipc.ReadFrame(uplinkRemote)
		if err == nil {
			up = line
		}
		return up != ""
	})
	if up != "LILO :alice!a@127.0.0.1 logged in" {
		t.Fatalf("unexpected uplink line %q", up)
	}

	if _, err := uplinkRemote.Write([]byte("KILL ALICE :bye\r\n")); err != nil {
		t.Fatalf("uplink write: %v", err)
	}
	pump(t, d, stopped(d))
	if d.SessionCount() != 0 {
		t.Fatalf("killed session still registered")
	}
}

func TestForkDaemonSpawnsWorkers(t *testing.T) {
	cfg := testConfig(t, config.RunModeForkDaemon)
	d, err := New(cfg, "", nil, WithWorkerCommand(os.Args[0], helperEnv+"=1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)
	if d.Role() != ipc.RoleSupervisor {
		t.Fatalf("forkdaemon should supervise, got %s", d.Role())
	}

	_, r := dial(t, d)
	pump(t, d, func() bool { return d.bus.Peers().Len() == 1 })
	readUntil(t, r, "hello from worker")
	if d.SessionCount() != 0 {
		t.Fatal("supervisor must not hold sessions")
	}

	d.bus.Route(ipc.SupervisorCommands(), nil, "DIE")
	if !stopped(d)() {
		t.Fatal("die should stop the supervisor")
	}
	d.Stop()
}

func TestWorkerArgs(t *testing.T) {
	got := WorkerArgs("/etc/ircgate.toml", "10.0.0.1")
	want := []string{"worker", "--ipc-fd", "3", "--client-fd", "4", "--remote", "10.0.0.1", "--config", "/etc/ircgate.toml"}
	if !slices.Equal(got, want) {
		t.Fatalf("WorkerArgs = %v", got)
	}
}
