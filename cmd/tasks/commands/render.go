package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/piwi3910/tasklist/pkg/tasks"
)

// renderTasks writes all as a table, or as a JSON array with --json.
func renderTasks(w io.Writer, all []tasks.Task) error {
	if jsonOutput {
		return writeJSON(w, all)
	}

	if len(all) == 0 {
		_, err := fmt.Fprintln(w, "No tasks.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tUPDATED")
	for _, task := range all {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", task.ID, task.Title, task.UpdatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

// renderTask reports a single created or changed task.
func renderTask(w io.Writer, verb string, task tasks.Task) error {
	if jsonOutput {
		return writeJSON(w, task)
	}
	_, err := fmt.Fprintf(w, "%s task %d: %s\n", verb, task.ID, task.Title)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
