package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	return c.normalizeWith(true)
}

func (c *Config) normalizeWith(useEnv bool) error {
	if err := c.normalizeDaemon(useEnv); err != nil {
		return err
	}
	c.normalizeServer()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizeDaemon(useEnv bool) error {
	raw := string(c.Daemon.RunMode)
	if useEnv {
		if value, ok := os.LookupEnv(runModeEnv); ok && strings.TrimSpace(value) != "" {
			raw = value
		}
	}
	if strings.TrimSpace(raw) == "" {
		raw = string(defaultRunMode)
	}
	mode, err := ParseRunMode(raw)
	if err != nil {
		return fmt.Errorf("daemon.run_mode: %w", err)
	}
	c.Daemon.RunMode = mode

	c.Daemon.ListenAddress = strings.TrimSpace(c.Daemon.ListenAddress)
	if c.Daemon.ListenAddress == "" {
		c.Daemon.ListenAddress = defaultListenAddress
	}
	if c.Daemon.Port == 0 {
		c.Daemon.Port = defaultPort
	}

	if strings.TrimSpace(c.Daemon.StateDir) == "" {
		c.Daemon.StateDir = defaultStateDir
	}
	if c.Daemon.StateDir, err = expandPath(c.Daemon.StateDir); err != nil {
		return fmt.Errorf("daemon.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Daemon.WorkerBinary) != "" {
		if c.Daemon.WorkerBinary, err = expandPath(strings.TrimSpace(c.Daemon.WorkerBinary)); err != nil {
			return fmt.Errorf("daemon.worker_binary: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeServer() {
	c.Server.HostName = strings.TrimSpace(c.Server.HostName)
	if c.Server.HostName == "" {
		c.Server.HostName = hostName()
	}
	c.Server.ServiceNick = strings.TrimSpace(c.Server.ServiceNick)
	if c.Server.ServiceNick == "" {
		c.Server.ServiceNick = defaultServiceNick
	}
	c.Server.MOTD = strings.TrimSpace(c.Server.MOTD)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	outputs := c.Logging.Outputs[:0]
	for _, out := range c.Logging.Outputs {
		if trimmed := strings.TrimSpace(out); trimmed != "" {
			outputs = append(outputs, trimmed)
		}
	}
	c.Logging.Outputs = outputs
}
