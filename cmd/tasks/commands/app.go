package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/piwi3910/tasklist/pkg/config"
	"github.com/piwi3910/tasklist/pkg/stores"
	"github.com/piwi3910/tasklist/pkg/tasks"
	"github.com/piwi3910/tasklist/pkg/telemetry"
)

const shutdownTimeout = 5 * time.Second

// app is the per-process composition root: one config, one telemetry
// bundle, one store and the repository over it.
type app struct {
	cfg   *config.Config
	tel   *telemetry.Telemetry
	store *stores.SQLiteStore
	repo  *tasks.Repository
}

// newApp loads configuration and wires the store and repository. tweak,
// if given, adjusts the config before anything is built.
func newApp(tweak func(*config.Config)) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	cfg.Telemetry.ServiceVersion = buildVersion
	if tweak != nil {
		tweak(cfg)
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	tel.Events.Subscribe(func(e telemetry.Event) {
		tel.Logger.WithTaskID(e.TaskID).WithField("event", e.Type).Debug(e.Message)
	}, nil)

	store, err := stores.NewSQLiteStore(
		cfg.StoreConfig(),
		stores.WithLogger(tel.Logger),
		stores.WithMetrics(tel.Metrics),
	)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, err
	}

	return &app{
		cfg:   cfg,
		tel:   tel,
		store: store,
		repo:  tasks.NewRepository(store, tasks.WithTelemetry(tel)),
	}, nil
}

// Close releases the store and flushes telemetry.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := errors.Join(a.store.Close(), a.tel.Shutdown(ctx)); err != nil {
		a.tel.Logger.WithError(err).Warn("Failed to shut down cleanly")
	}
}

// withApp runs fn against a freshly wired app and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	return explain(fn(cmd.Context(), a))
}

// explain turns store failures into messages a user can act on.
func explain(err error) error {
	if err == nil {
		return nil
	}

	switch stores.KindOf(err) {
	case stores.KindOpenFailed:
		return fmt.Errorf("cannot open the task database (run 'tasks init' first?): %w", err)
	case stores.KindSaveFailed:
		return fmt.Errorf("the change could not be saved: %w", err)
	case stores.KindFetchFailed:
		return fmt.Errorf("could not read tasks, try again: %w", err)
	case stores.KindNotFound:
		return fmt.Errorf("that task no longer exists; run 'tasks list' to refresh: %w", err)
	default:
		return err
	}
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", arg)
	}
	return id, nil
}
