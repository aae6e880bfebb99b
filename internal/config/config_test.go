package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"ircgate/internal/config"
)

func writeConfig(t *testing.T, path string, payload any) {
	t.Helper()
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("IRCGATE_RUN_MODE", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if resolved != filepath.Join(tempHome, ".config", "ircgate", "config.toml") {
		t.Fatalf("unexpected resolved path %q", resolved)
	}

	wantState := filepath.Join(tempHome, ".local", "state", "ircgate")
	if cfg.Daemon.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Daemon.StateDir, wantState)
	}
	if cfg.Daemon.RunMode != config.RunModeDaemon {
		t.Fatalf("expected daemon run mode by default, got %q", cfg.Daemon.RunMode)
	}
	if cfg.Daemon.Port != 6667 || cfg.Daemon.ListenAddress != "0.0.0.0" {
		t.Fatalf("unexpected listener %s:%d", cfg.Daemon.ListenAddress, cfg.Daemon.Port)
	}
	if cfg.Server.ServiceNick != "root" || cfg.Server.HostName == "" {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.LockPath() != filepath.Join(wantState, "ircgate.lock") {
		t.Fatalf("unexpected lock path %q", cfg.LockPath())
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	if info, err := os.Stat(wantState); err != nil || !info.IsDir() {
		t.Fatalf("expected state dir to exist: %v", err)
	}
}

func TestLoadCustomPath(t *testing.T) {
	t.Setenv("IRCGATE_RUN_MODE", "")
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "ircgate.toml")

	type payload struct {
		Daemon struct {
			RunMode  string `toml:"run_mode"`
			Port     int    `toml:"port"`
			StateDir string `toml:"state_dir"`
		} `toml:"daemon"`
		Server struct {
			HostName     string `toml:"host_name"`
			OperPassword string `toml:"oper_password"`
		} `toml:"server"`
		Logging struct {
			Format string `toml:"format"`
		} `toml:"logging"`
	}
	custom := payload{}
	custom.Daemon.RunMode = " ForkDaemon "
	custom.Daemon.Port = 6697
	custom.Daemon.StateDir = filepath.Join(tempDir, "state")
	custom.Server.HostName = "irc.example.net"
	custom.Server.OperPassword = "s3cret"
	custom.Logging.Format = "JSON"
	writeConfig(t, configPath, custom)

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected %q to be loaded, got %q exists=%v", configPath, resolved, exists)
	}
	if cfg.Daemon.RunMode != config.RunModeForkDaemon {
		t.Fatalf("expected forkdaemon, got %q", cfg.Daemon.RunMode)
	}
	if cfg.Daemon.Port != 6697 || cfg.Server.HostName != "irc.example.net" || cfg.Server.OperPassword != "s3cret" {
		t.Fatalf("custom values not applied: %+v", cfg)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected canonical log format, got %q", cfg.Logging.Format)
	}
	if !cfg.Listens() {
		t.Fatal("forkdaemon should listen")
	}
}

func TestEnvVarOverridesRunMode(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "ircgate.toml")
	if err := os.WriteFile(configPath, []byte("[daemon]\nrun_mode = \"daemon\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("IRCGATE_RUN_MODE", "INETD")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Daemon.RunMode != config.RunModeInetd {
		t.Fatalf("expected env override to win, got %q", cfg.Daemon.RunMode)
	}
	if cfg.Listens() {
		t.Fatal("inetd should not listen")
	}
}

func TestReloadPreservesRunMode(t *testing.T) {
	t.Setenv("IRCGATE_RUN_MODE", "")
	configPath := filepath.Join(t.TempDir(), "ircgate.toml")
	if err := os.WriteFile(configPath, []byte("[daemon]\nrun_mode = \"forkdaemon\"\n[server]\nmotd = \"before\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	current, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if err := os.WriteFile(configPath, []byte("[daemon]\nrun_mode = \"inetd\"\n[server]\nmotd = \"after\"\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	next, changed, err := config.Reload(configPath, current)
	if err != nil {
		t.Fatalf("Reload returned error: %v", err)
	}
	if !changed {
		t.Fatal("expected run mode change to be reported")
	}
	if next.Daemon.RunMode != config.RunModeForkDaemon {
		t.Fatalf("run mode must be preserved, got %q", next.Daemon.RunMode)
	}
	if next.Server.MOTD != "after" {
		t.Fatalf("expected other values to reload, got motd %q", next.Server.MOTD)
	}

	_, changed, err = config.Reload(configPath, next)
	if err != nil || !changed {
		t.Fatalf("file still asks for inetd: changed=%v err=%v", changed, err)
	}
}

func TestReloadErrors(t *testing.T) {
	current := config.Default()
	missing := filepath.Join(t.TempDir(), "gone.toml")
	if _, _, err := config.Reload(missing, &current); !errors.Is(err, config.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	broken := filepath.Join(t.TempDir(), "broken.toml")
	if err := os.WriteFile(broken, []byte("[daemon]\nport = 70000\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, err := config.Reload(broken, &current); err == nil {
		t.Fatal("expected invalid port to fail reload")
	}
}

func TestCreateSample(t *testing.T) {
	t.Setenv("IRCGATE_RUN_MODE", "")
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "run_mode") || !strings.Contains(string(data), "[server]") {
		t.Fatalf("sample config missing expected sections")
	}

	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config should load cleanly: %v", err)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"run mode", func(c *config.Config) { c.Daemon.RunMode = "threaded" }, "daemon.run_mode"},
		{"port", func(c *config.Config) { c.Daemon.Port = 70000 }, "daemon.port"},
		{"listen address", func(c *config.Config) { c.Daemon.ListenAddress = "localhost" }, "daemon.listen_address"},
		{"service nick", func(c *config.Config) { c.Server.ServiceNick = "9lives" }, "server.service_nick"},
		{"motd", func(c *config.Config) { c.Server.MOTD = "a\r\nb" }, "server.motd"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"log level", func(c *config.Config) { c.Logging.Level = "chatty" }, "logging.level"},
		{"inetd stdout", func(c *config.Config) {
			c.Daemon.RunMode = config.RunModeInetd
			c.Logging.Outputs = []string{"stdout"}
		}, "logging.outputs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestParseRunMode(t *testing.T) {
	for _, raw := range []string{"inetd", " Daemon", "FORKDAEMON "} {
		if _, err := config.ParseRunMode(raw); err != nil {
			t.Fatalf("ParseRunMode(%q): %v", raw, err)
		}
	}
	if _, err := config.ParseRunMode("fork"); err == nil {
		t.Fatal("expected unknown run mode to fail")
	}
}
