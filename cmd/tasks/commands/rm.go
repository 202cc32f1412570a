package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/piwi3910/tasklist/pkg/tasks"
)

func newRemoveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete", "done"},
		Short:   "Remove a task",
		Example: `  tasks rm 1`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.repo.Delete(ctx, tasks.Task{ID: id}); err != nil {
					return err
				}

				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), map[string]int64{"deleted": id})
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Removed task %d\n", id)
				return err
			})
		},
	}

	return cmd
}
