package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"ircgate/internal/daemonctl"
)

func newControlCommands(ctx *commandContext) []*cobra.Command {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether a listening gateway is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			status, err := daemonctl.Probe(cfg)
			if err != nil {
				return err
			}
			pid := "-"
			if status.PID > 0 {
				pid = strconv.Itoa(status.PID)
			}
			rows := [][]string{
				{"Running", yesNo(status.Running)},
				{"PID", pid},
				{"Run mode", string(cfg.Daemon.RunMode)},
				{"Listen", fmt.Sprintf("%s:%d", cfg.Daemon.ListenAddress, cfg.Daemon.Port)},
				{"Lock", status.LockPath},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable("Gateway", []string{"Field", "Value"}, rows, nil))
			return nil
		},
	}

	var grace time.Duration
	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the listening gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stdout := cmd.OutOrStdout()
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			result, err := daemonctl.Stop(cfg, grace)
			if errors.Is(err, daemonctl.ErrNotRunning) {
				fmt.Fprintln(stdout, "Gateway is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(stdout, "Gateway (pid %d) ignored SIGTERM and was killed\n", result.PID)
				return nil
			}
			fmt.Fprintf(stdout, "Gateway (pid %d) stopped\n", result.PID)
			return nil
		},
	}
	stopCmd.Flags().DurationVar(&grace, "grace", 5*time.Second, "How long to wait before sending SIGKILL")

	rehashCmd := &cobra.Command{
		Use:   "rehash",
		Short: "Ask the listening gateway to reload its configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			pid, err := daemonctl.Rehash(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rehash requested (pid %d)\n", pid)
			return nil
		},
	}

	return []*cobra.Command{statusCmd, stopCmd, rehashCmd}
}
