package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"ircgate/internal/ipc"
)

func newCommandsCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "commands",
		Short:       "Show the control command tables",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			for i, table := range []*ipc.Table{ipc.SupervisorCommands(), ipc.WorkerCommands()} {
				if i > 0 {
					fmt.Fprintln(out)
				}
				fmt.Fprintln(out, renderCommandTable(table))
			}
			return nil
		},
	}
}

func renderCommandTable(table *ipc.Table) string {
	cmds := table.Commands()
	rows := make([][]string, 0, len(cmds))
	for _, cmd := range cmds {
		rows = append(rows, []string{
			cmd.Name,
			strconv.Itoa(cmd.MinArgs),
			cmd.Routing.String(),
			routeTarget(table.Side(), cmd.Routing),
		})
	}
	return renderTable(
		table.Side().String()+" commands",
		[]string{"Command", "Min Args", "Routing", "Runs On"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft},
	)
}

// routeTarget names where a command from side ends up executing.
func routeTarget(side ipc.Role, routing ipc.Routing) string {
	if routing == ipc.Local {
		return "here"
	}
	if side == ipc.RoleSupervisor {
		return "every worker"
	}
	return "supervisor"
}
