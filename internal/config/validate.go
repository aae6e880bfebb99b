package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"ircgate/internal/ircnick"
	"ircgate/internal/logging"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDaemon(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDaemon() error {
	if _, err := ParseRunMode(string(c.Daemon.RunMode)); err != nil {
		return fmt.Errorf("daemon.run_mode: %w", err)
	}
	if c.Daemon.Port <= 0 || c.Daemon.Port > 65535 {
		return fmt.Errorf("daemon.port must be between 1 and 65535, got %d", c.Daemon.Port)
	}
	if _, err := netip.ParseAddr(c.Daemon.ListenAddress); err != nil {
		return fmt.Errorf("daemon.listen_address must be an IP address: %w", err)
	}
	if strings.TrimSpace(c.Daemon.StateDir) == "" {
		return errors.New("daemon.state_dir must be set")
	}
	return nil
}

func (c *Config) validateServer() error {
	if strings.ContainsAny(c.Server.HostName, " \r\n") {
		return errors.New("server.host_name must not contain whitespace")
	}
	if !ircnick.Valid(c.Server.ServiceNick) {
		return fmt.Errorf("server.service_nick %q is not a valid nick", c.Server.ServiceNick)
	}
	if strings.ContainsAny(c.Server.MOTD, "\r\n") {
		return errors.New("server.motd must be a single line")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !logging.ValidFormat(c.Logging.Format) {
		return fmt.Errorf("logging.format: unsupported value %q (want console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Daemon.RunMode == RunModeInetd {
		for _, out := range c.Logging.Outputs {
			if out == "stdout" {
				return errors.New("logging.outputs: stdout is the client connection in inetd mode")
			}
		}
	}
	return nil
}
