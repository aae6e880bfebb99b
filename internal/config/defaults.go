package config

import (
	"os"
	"strings"
)

const (
	defaultRunMode       = RunModeDaemon
	defaultListenAddress = "0.0.0.0"
	defaultPort          = 6667
	defaultStateDir      = "~/.local/state/ircgate"
	defaultServiceNick   = "root"
	defaultHostName      = "localhost"
	defaultMOTD          = "Welcome to ircgate."
	defaultLogFormat     = "console"
	defaultLogLevel      = "info"
	defaultConfigPath    = "~/.config/ircgate/config.toml"
	projectConfigName    = "ircgate.toml"
	runModeEnv           = "IRCGATE_RUN_MODE"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Daemon: Daemon{
			RunMode:       defaultRunMode,
			ListenAddress: defaultListenAddress,
			Port:          defaultPort,
			StateDir:      defaultStateDir,
		},
		Server: Server{
			HostName:    hostName(),
			ServiceNick: defaultServiceNick,
			MOTD:        defaultMOTD,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

func hostName() string {
	name, err := os.Hostname()
	if err != nil || strings.TrimSpace(name) == "" {
		return defaultHostName
	}
	return name
}
