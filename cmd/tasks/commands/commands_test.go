package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/piwi3910/tasklist/pkg/config"
	"github.com/piwi3910/tasklist/pkg/stores"
	"github.com/piwi3910/tasklist/pkg/tasks"
	"github.com/piwi3910/tasklist/pkg/telemetry"
)

// runCommand executes the root command with args and returns stdout
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCommand("test", "none", "today")
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// setupWorkspace initializes a task list in a temp dir and returns its
// config path
func setupWorkspace(t *testing.T) string {
	t.Helper()

	for _, key := range []string{config.EnvDataDir, config.EnvDBPath, config.EnvLogLevel} {
		t.Setenv(key, "")
	}

	cfgPath := filepath.Join(t.TempDir(), "tasks.yaml")
	out, err := runCommand(t, "init", "-c", cfgPath)
	if err != nil {
		t.Fatalf("failed to init: %v", err)
	}
	if !strings.Contains(out, "Initialized SQLite database") {
		t.Fatalf("unexpected init output:\n%s", out)
	}
	return cfgPath
}

func TestTaskLifecycle(t *testing.T) {
	cfgPath := setupWorkspace(t)

	out, err := runCommand(t, "add", "-c", cfgPath, "Buy", "milk")
	if err != nil {
		t.Fatalf("failed to add: %v", err)
	}
	if strings.TrimSpace(out) != "Added task 1: Buy milk" {
		t.Errorf("unexpected add output: %q", out)
	}

	if _, err := runCommand(t, "add", "-c", cfgPath, "Walk dog"); err != nil {
		t.Fatalf("failed to add: %v", err)
	}

	out, err = runCommand(t, "list", "-c", cfgPath)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	milk, dog := strings.Index(out, "Buy milk"), strings.Index(out, "Walk dog")
	if milk < 0 || dog < 0 || milk > dog {
		t.Errorf("expected both tasks in creation order:\n%s", out)
	}

	if _, err := runCommand(t, "rm", "-c", cfgPath, "1"); err != nil {
		t.Fatalf("failed to remove: %v", err)
	}

	out, err = runCommand(t, "edit", "-c", cfgPath, "2", "Walk", "the", "dog")
	if err != nil {
		t.Fatalf("failed to edit: %v", err)
	}
	if strings.TrimSpace(out) != "Updated task 2: Walk the dog" {
		t.Errorf("unexpected edit output: %q", out)
	}

	out, err = runCommand(t, "list", "--json", "-c", cfgPath)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	var all []tasks.Task
	if err := json.Unmarshal([]byte(out), &all); err != nil {
		t.Fatalf("failed to decode list output: %v\n%s", err, out)
	}
	if len(all) != 1 || all[0].ID != 2 || all[0].Title != "Walk the dog" {
		t.Errorf("unexpected tasks: %+v", all)
	}
}

func TestListEmpty(t *testing.T) {
	cfgPath := setupWorkspace(t)

	out, err := runCommand(t, "list", "-c", cfgPath)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if strings.TrimSpace(out) != "No tasks." {
		t.Errorf("unexpected output: %q", out)
	}

	out, err = runCommand(t, "list", "--json", "-c", cfgPath)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("expected empty JSON array, got %q", out)
	}
}

func TestRemoveMissingTask(t *testing.T) {
	cfgPath := setupWorkspace(t)

	_, err := runCommand(t, "rm", "-c", cfgPath, "7")
	if !errors.Is(err, stores.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "no longer exists") {
		t.Errorf("expected a user-facing message, got %v", err)
	}

	if _, err := runCommand(t, "edit", "-c", cfgPath, "7", "x"); !errors.Is(err, stores.ErrNotFound) {
		t.Errorf("expected ErrNotFound from edit, got %v", err)
	}
}

func TestOpenFailure(t *testing.T) {
	for _, key := range []string{config.EnvDataDir, config.EnvDBPath, config.EnvLogLevel} {
		t.Setenv(key, "")
	}

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "tasks.yaml")
	content := "data_dir: " + filepath.Join(dir, "missing", "deeper") + "\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	_, err := runCommand(t, "list", "-c", cfgPath)
	if !errors.Is(err, stores.ErrOpenFailed) {
		t.Fatalf("expected ErrOpenFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "tasks init") {
		t.Errorf("expected a hint to run init, got %v", err)
	}
}

func TestInputValidation(t *testing.T) {
	cfgPath := setupWorkspace(t)

	tests := []struct {
		name string
		args []string
	}{
		{name: "blank title", args: []string{"add", "-c", cfgPath, "   "}},
		{name: "bad id", args: []string{"rm", "-c", cfgPath, "abc"}},
		{name: "zero id", args: []string{"rm", "-c", cfgPath, "0"}},
		{name: "edit without title", args: []string{"edit", "-c", cfgPath, "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runCommand(t, tt.args...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestInitRefusesOverwrite(t *testing.T) {
	cfgPath := setupWorkspace(t)

	if _, err := runCommand(t, "init", "-c", cfgPath); err == nil {
		t.Fatal("expected init to refuse an existing config")
	}

	if _, err := runCommand(t, "add", "-c", cfgPath, "keep me"); err != nil {
		t.Fatalf("failed to add: %v", err)
	}
	if _, err := runCommand(t, "init", "--force", "-c", cfgPath); err != nil {
		t.Fatalf("failed to re-init with --force: %v", err)
	}

	// Re-initializing keeps existing tasks
	out, err := runCommand(t, "list", "-c", cfgPath)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if !strings.Contains(out, "keep me") {
		t.Errorf("expected existing task to survive init --force:\n%s", out)
	}
}

func TestInitStoresAbsolutePaths(t *testing.T) {
	for _, key := range []string{config.EnvDataDir, config.EnvDBPath, config.EnvLogLevel} {
		t.Setenv(key, "")
	}

	root := t.TempDir()
	t.Chdir(root)

	if _, err := runCommand(t, "init", "-c", filepath.Join("sub", "tasks.yaml")); err != nil {
		t.Fatalf("failed to init: %v", err)
	}
	if _, err := runCommand(t, "add", "-c", filepath.Join("sub", "tasks.yaml"), "Buy milk"); err != nil {
		t.Fatalf("failed to add: %v", err)
	}

	cfgPath := filepath.Join(root, "sub", "tasks.yaml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if !filepath.IsAbs(cfg.DataDir) {
		t.Fatalf("expected an absolute data dir, got %s", cfg.DataDir)
	}
	got, _ := filepath.EvalSymlinks(cfg.DataDir)
	want, _ := filepath.EvalSymlinks(filepath.Join(root, "sub", "data"))
	if got != want {
		t.Errorf("expected data dir %s, got %s", want, got)
	}

	// The same config used from elsewhere reaches the same database
	t.Chdir(t.TempDir())
	out, err := runCommand(t, "list", "-c", cfgPath)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if !strings.Contains(out, "Buy milk") {
		t.Errorf("expected task from the original database:\n%s", out)
	}
}

func TestIsDatabaseEvent(t *testing.T) {
	db := filepath.Join("data", "tasks.db")

	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{name: "db write", event: fsnotify.Event{Name: db, Op: fsnotify.Write}, want: true},
		{name: "wal write", event: fsnotify.Event{Name: db + "-wal", Op: fsnotify.Write}, want: true},
		{name: "journal create", event: fsnotify.Event{Name: db + "-journal", Op: fsnotify.Create}, want: true},
		{name: "shm write", event: fsnotify.Event{Name: db + "-shm", Op: fsnotify.Write}, want: false},
		{name: "chmod", event: fsnotify.Event{Name: db, Op: fsnotify.Chmod}, want: false},
		{name: "other file", event: fsnotify.Event{Name: filepath.Join("data", "notes.txt"), Op: fsnotify.Write}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isDatabaseEvent(db, tt.event); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestWatchDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tasks.db")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- watchDatabase(ctx, telemetry.NopLogger(), dbPath, 10*time.Millisecond, func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
	}()

	// Keep writing until the watcher is up and reports a change
	deadline := time.After(5 * time.Second)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for waiting := true; waiting; {
		select {
		case <-changed:
			waiting = false
		case <-ticker.C:
			if err := os.WriteFile(dbPath, []byte("x"), 0o600); err != nil {
				t.Fatalf("failed to write: %v", err)
			}
		case <-deadline:
			t.Fatal("timed out waiting for change notification")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("watchDatabase returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watchDatabase did not stop after cancel")
	}
}
