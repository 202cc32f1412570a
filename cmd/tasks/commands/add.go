package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newAddCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <title...>",
		Short: "Add a task",
		Long: `Add a task to the end of the list. The words of the title may be given
as separate arguments.`,
		Example: `  tasks add Buy milk
  tasks add "Walk the dog"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title, err := titleFromArgs(args)
			if err != nil {
				return err
			}

			return withApp(cmd, func(ctx context.Context, a *app) error {
				task, err := a.repo.Create(ctx, title)
				if err != nil {
					return err
				}

				log.Debug().Int64("task_id", task.ID).Msg("Task created")
				return renderTask(cmd.OutOrStdout(), "Added", task)
			})
		},
	}

	return cmd
}

// titleFromArgs joins args into a title and rejects a blank one.
func titleFromArgs(args []string) (string, error) {
	title := strings.TrimSpace(strings.Join(args, " "))
	if title == "" {
		return "", fmt.Errorf("title must not be empty")
	}
	return title, nil
}
