package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/piwi3910/tasklist/pkg/tasks"
)

func newEditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "edit <id> <title...>",
		Aliases: []string{"rename"},
		Short:   "Change a task's title",
		Example: `  tasks edit 2 Walk the dog twice`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			title, err := titleFromArgs(args[1:])
			if err != nil {
				return err
			}

			return withApp(cmd, func(ctx context.Context, a *app) error {
				task := tasks.Task{ID: id}
				if err := a.repo.Update(ctx, task, title); err != nil {
					return err
				}

				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), map[string]any{"id": id, "title": title})
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Updated task %d: %s\n", id, title)
				return err
			})
		},
	}

	return cmd
}
