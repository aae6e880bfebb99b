package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ircgate/internal/config"
	"ircgate/internal/daemonrun"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var runMode string
	var logLevel string
	var development bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the gateway in the configured run mode",
		Long: "Start the gateway. inetd serves the client on stdin, daemon serves every\n" +
			"client in this process and forkdaemon hands each client to a worker process.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(runMode) != "" {
				mode, err := config.ParseRunMode(runMode)
				if err != nil {
					return err
				}
				cfg.Daemon.RunMode = mode
				if err := cfg.Validate(); err != nil {
					return fmt.Errorf("run mode %s: %w", mode, err)
				}
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				ConfigPath:  ctx.configPath(),
				LogLevel:    logLevel,
				Development: development,
			})
		},
	}
	cmd.Flags().StringVar(&runMode, "run-mode", "", "Override the configured run mode (inetd, daemon, forkdaemon)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log lines")
	return cmd
}
