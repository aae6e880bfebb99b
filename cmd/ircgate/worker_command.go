package main

import (
	"errors"

	"github.com/spf13/cobra"

	"ircgate/internal/daemon"
	"ircgate/internal/daemonrun"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var ipcFD, clientFD int
	var remote string
	var logLevel string

	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Serve one forkdaemon client (internal)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if ipcFD < 0 || clientFD < 0 || ipcFD == clientFD {
				return errors.New("worker needs distinct --ipc-fd and --client-fd descriptors")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.RunWorker(cmd.Context(), cfg, daemonrun.Options{
				ConfigPath: ctx.configPath(),
				LogLevel:   logLevel,
			}, ipcFD, clientFD, remote)
		},
	}
	cmd.Flags().IntVar(&ipcFD, "ipc-fd", daemon.WorkerIPCFD, "Inherited descriptor of the supervisor connection")
	cmd.Flags().IntVar(&clientFD, "client-fd", daemon.WorkerClientFD, "Inherited descriptor of the client connection")
	cmd.Flags().StringVar(&remote, "remote", "", "Client address, for logging and the session mask")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	return cmd
}
