package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/piwi3910/tasklist/pkg/config"
	"github.com/piwi3910/tasklist/pkg/stores"
)

func newInitCommand() *cobra.Command {
	var (
		dataDir string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a task list",
		Long: `Initialize a task list: create the data directory, write a config file and
create the SQLite database with its schema.`,
		Example: `  # Initialize in the current directory
  tasks init

  # Keep data somewhere else
  tasks init --data-dir ~/.local/share/tasks --config ~/.config/tasks.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			path := configPath
			if path == "" {
				path = config.DefaultPath
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
			}

			cfg := config.Default()
			if configPath != "" {
				// Keep data next to a custom config file
				cfg.DataDir = filepath.Join(filepath.Dir(configPath), "data")
			}
			cfg.ApplyEnv(os.Getenv)
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			// Saved paths must resolve the same from any working directory
			if err := absolutize(cfg); err != nil {
				return err
			}

			log.Debug().
				Str("config", path).
				Str("data_dir", cfg.DataDir).
				Msg("Initializing task list")

			if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", cfg.DataDir, err)
			}
			fmt.Fprintf(out, "✓ Created directory: %s\n", cfg.DataDir)

			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Created config file: %s\n", path)

			store, err := stores.NewSQLiteStore(cfg.StoreConfig())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.EnsureOpen(cmd.Context()); err != nil {
				return explain(err)
			}
			fmt.Fprintf(out, "✓ Initialized SQLite database: %s\n", store.Path())

			fmt.Fprintf(out, "\nNext steps:\n")
			fmt.Fprintf(out, "  tasks add Buy milk\n")
			fmt.Fprintf(out, "  tasks list\n")

			return nil
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "", "directory for the task database")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	return cmd
}

func absolutize(cfg *config.Config) error {
	abs, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to resolve data dir %s: %w", cfg.DataDir, err)
	}
	cfg.DataDir = abs

	if p := cfg.Database.Path; p != "" && p != stores.MemoryPath {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("failed to resolve database path %s: %w", p, err)
		}
		cfg.Database.Path = abs
	}
	return nil
}
