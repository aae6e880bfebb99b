package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"ircgate/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config rooted in a unique temp directory per test. It
// listens on loopback with an ephemeral port, enables OPER with the password
// "hunter2" and logs errors only, to a file under the temp directory.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Daemon.ListenAddress = "127.0.0.1"
	cfgVal.Daemon.Port = 0
	cfgVal.Daemon.StateDir = filepath.Join(base, "state")
	cfgVal.Server.HostName = "irc.test"
	cfgVal.Server.OperPassword = "hunter2"
	cfgVal.Logging.Level = "error"
	cfgVal.Logging.Outputs = []string{filepath.Join(base, "ircgate.log")}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithRunMode sets the process layout.
func WithRunMode(mode config.RunMode) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Daemon.RunMode = mode
	}
}

// WithPort pins the listening port. Loading a written config turns port 0
// into the default port, so tests that go through a file need this.
func WithPort(port int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Daemon.Port = port
	}
}

// WithMOTD overrides the message of the day.
func WithMOTD(motd string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Server.MOTD = motd
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Daemon.StateDir)
}

// WriteConfig stores cfg as TOML next to its state directory and returns
// the file path.
func WriteConfig(t testing.TB, cfg *config.Config) string {
	t.Helper()
	return WriteConfigTo(t, filepath.Join(BaseDir(cfg), "config.toml"), cfg)
}

// WriteConfigTo stores cfg as TOML at path, replacing any previous file.
func WriteConfigTo(t testing.TB, path string, cfg *config.Config) string {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config %s: %v", path, err)
	}
	return path
}
