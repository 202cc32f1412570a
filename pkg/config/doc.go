// Package config loads the task list configuration.
//
// Settings come from a YAML file (tasks.yaml by default) layered over
// Default, then from TASKS_DATA_DIR, TASKS_DB_PATH and LOG_LEVEL, read from
// the process environment or a .env file. The result is validated with
// struct tags before use.
package config
