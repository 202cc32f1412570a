package commands

import (
	"context"

	"github.com/spf13/cobra"
)

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks in creation order",
		Example: `  # Show all tasks
  tasks list

  # Machine-readable output
  tasks list --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				all, err := a.repo.FetchAll(ctx)
				if err != nil {
					return err
				}
				return renderTasks(cmd.OutOrStdout(), all)
			})
		},
	}

	return cmd
}
