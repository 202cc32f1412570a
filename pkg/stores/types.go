package stores

import (
	"time"
)

// Record is the persisted shape of a task. The store does not interpret
// Title; it only keeps it.
type Record struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Config holds SQLite store configuration
type Config struct {
	// Path is the database file, or ":memory:" for a private in-memory
	// database.
	Path string `validate:"required"`

	// BusyTimeout bounds how long a write waits on a locked database.
	BusyTimeout time.Duration `validate:"gte=0"`
}

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const defaultBusyTimeout = 5 * time.Second
