package tasks

import (
	"time"

	"github.com/piwi3910/tasklist/pkg/stores"
)

// Task is a single to-do item. ID is assigned by the store and never reused.
type Task struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func fromRecord(rec stores.Record) Task {
	return Task{
		ID:        rec.ID,
		Title:     rec.Title,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func fromRecords(recs []stores.Record) []Task {
	out := make([]Task, len(recs))
	for i, rec := range recs {
		out[i] = fromRecord(rec)
	}
	return out
}
