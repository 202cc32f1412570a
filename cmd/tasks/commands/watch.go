package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/piwi3910/tasklist/pkg/config"
	"github.com/piwi3910/tasklist/pkg/stores"
	"github.com/piwi3910/tasklist/pkg/telemetry"
)

func newWatchCommand() *cobra.Command {
	var (
		serveMetrics bool
		metricsAddr  string
		debounce     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Show the task list and refresh it when it changes",
		Long: `Show the task list and re-render it whenever the database changes, for
example after 'tasks add' in another terminal. Stop with Ctrl-C.

With --metrics the store and repository metrics are served for Prometheus.`,
		Example: `  tasks watch
  tasks watch --metrics --metrics-addr :9100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(func(cfg *config.Config) {
				if serveMetrics {
					cfg.Telemetry.Metrics.Enabled = true
				}
				if metricsAddr != "" {
					cfg.Telemetry.Metrics.ListenAddress = metricsAddr
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if a.store.Path() == stores.MemoryPath {
				return fmt.Errorf("cannot watch an in-memory database")
			}
			if err := a.store.EnsureOpen(ctx); err != nil {
				return explain(err)
			}

			server := a.tel.Metrics.StartMetricsServer(func(err error) {
				a.tel.Logger.WithError(err).Error("Metrics server failed")
			})
			if server != nil {
				a.tel.Logger.WithField("address", server.Addr).Info("Serving metrics")
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
					defer cancel()
					_ = server.Shutdown(shutdownCtx)
				}()
			}

			view := &listView{out: cmd.OutOrStdout(), app: a}
			view.refresh(ctx)

			return watchDatabase(ctx, a.tel.Logger, a.store.Path(), debounce, func() { view.refresh(ctx) })
		},
	}

	cmd.Flags().BoolVar(&serveMetrics, "metrics", false, "serve Prometheus metrics while watching")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "metrics listen address (default from config)")
	cmd.Flags().DurationVar(&debounce, "debounce", 200*time.Millisecond, "wait this long for writes to settle before refreshing")

	return cmd
}

// listView re-renders the task list. Refreshes never interleave.
type listView struct {
	mu  sync.Mutex
	out io.Writer
	app *app
}

func (v *listView) refresh(ctx context.Context) {
	v.mu.Lock()
	defer v.mu.Unlock()

	all, err := v.app.repo.FetchAll(ctx)
	if err != nil {
		v.app.tel.Logger.WithError(explain(err)).Warn("Failed to refresh tasks")
		return
	}

	if !jsonOutput {
		fmt.Fprintf(v.out, "\n-- %s --\n", time.Now().Format(time.TimeOnly))
	}
	if err := renderTasks(v.out, all); err != nil {
		v.app.tel.Logger.WithError(err).Warn("Failed to render tasks")
	}
}

// watchDatabase calls onChange, debounced by delay, whenever the database
// file or its WAL changes. It returns when ctx is cancelled.
func watchDatabase(ctx context.Context, logger *telemetry.Logger, dbPath string, delay time.Duration, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// SQLite replaces and truncates side files, so the directory is watched
	dir := filepath.Dir(dbPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	logger.WithField("path", dbPath).Debug("Watching task database")

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isDatabaseEvent(dbPath, event) {
				continue
			}

			logger.WithFields(map[string]interface{}{
				"file": event.Name,
				"op":   event.Op.String(),
			}).Debug("Task database changed")

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(delay, onChange)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Events were lost; refresh anyway
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(delay, onChange)
				continue
			}
			logger.WithError(err).Warn("File watcher error")
		}
	}
}

// isDatabaseEvent reports whether event touches the database or its WAL.
func isDatabaseEvent(dbPath string, event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}

	base := filepath.Base(dbPath)
	switch filepath.Base(event.Name) {
	case base, base + "-wal", base + "-journal":
		return true
	default:
		return false
	}
}
