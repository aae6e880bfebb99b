package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// ErrNotFound is returned by Reload when the configuration file it was
// started from has disappeared.
var ErrNotFound = errors.New("config file not found")

// RunMode selects how the gateway lays out its processes.
type RunMode string

const (
	// RunModeInetd serves a single client on stdin, as spawned by inetd.
	RunModeInetd RunMode = "inetd"
	// RunModeDaemon listens and serves every client in one process.
	RunModeDaemon RunMode = "daemon"
	// RunModeForkDaemon listens and hands each client to its own worker.
	RunModeForkDaemon RunMode = "forkdaemon"
)

// RunModes lists the accepted run modes.
func RunModes() []RunMode {
	return []RunMode{RunModeInetd, RunModeDaemon, RunModeForkDaemon}
}

// ParseRunMode accepts any case and surrounding whitespace.
func ParseRunMode(value string) (RunMode, error) {
	mode := RunMode(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range RunModes() {
		if mode == known {
			return mode, nil
		}
	}
	return "", fmt.Errorf("unknown run mode %q (want inetd, daemon or forkdaemon)", value)
}

// Daemon contains process layout and listener configuration.
type Daemon struct {
	RunMode       RunMode `toml:"run_mode"`
	ListenAddress string  `toml:"listen_address"`
	Port          int     `toml:"port"`
	// StateDir holds the pid and lock files.
	StateDir string `toml:"state_dir"`
	// WorkerBinary overrides the executable re-run for forkdaemon workers.
	// Empty means the running executable.
	WorkerBinary string `toml:"worker_binary"`
}

// Server contains what clients see of the gateway.
type Server struct {
	HostName     string `toml:"host_name"`
	ServiceNick  string `toml:"service_nick"`
	OperPassword string `toml:"oper_password"`
	MOTD         string `toml:"motd"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format  string   `toml:"format"`
	Level   string   `toml:"level"`
	Outputs []string `toml:"outputs"`
}

// Config encapsulates all configuration values for ircgate.
type Config struct {
	Daemon  Daemon  `toml:"daemon"`
	Server  Server  `toml:"server"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		if err := decodeFile(resolvedPath, &cfg); err != nil {
			return nil, "", false, err
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// Reload re-reads path for a rehash. The run mode of current always wins;
// changed reports whether the file asked for a different one. The
// environment override is not consulted again.
func Reload(path string, current *Config) (next *Config, changed bool, err error) {
	if current == nil {
		return nil, false, errors.New("reload requires the current configuration")
	}
	if strings.TrimSpace(path) == "" {
		return nil, false, errors.New("reload requires the configuration path")
	}
	if info, statErr := os.Stat(path); statErr != nil || info.IsDir() {
		return nil, false, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	cfg := Default()
	if err := decodeFile(path, &cfg); err != nil {
		return nil, false, err
	}
	if err := cfg.normalizeWith(false); err != nil {
		return nil, false, err
	}
	changed = cfg.Daemon.RunMode != current.Daemon.RunMode
	cfg.Daemon.RunMode = current.Daemon.RunMode
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	return &cfg, changed, nil
}

func decodeFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("parse config: %s", strict.String())
		}
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		info, err := os.Stat(expanded)
		if err == nil && !info.IsDir() {
			return expanded, true, nil
		}
		return expanded, false, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state directory.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Daemon.StateDir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", c.Daemon.StateDir, err)
	}
	return nil
}

// LockPath is the single-instance lock held by listening run modes.
func (c *Config) LockPath() string {
	return filepath.Join(c.Daemon.StateDir, "ircgate.lock")
}

// PIDPath is where the listening process records its pid.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Daemon.StateDir, "ircgate.pid")
}

// Listens reports whether the run mode owns a listening socket.
func (c *Config) Listens() bool {
	return c.Daemon.RunMode == RunModeDaemon || c.Daemon.RunMode == RunModeForkDaemon
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
