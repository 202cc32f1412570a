package tasks

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/piwi3910/tasklist/pkg/stores"
	"github.com/piwi3910/tasklist/pkg/telemetry"
)

const statusOK = "ok"

// Store is the persistence surface the repository needs.
type Store interface {
	EnsureOpen(ctx context.Context) error
	Load(ctx context.Context) ([]stores.Record, error)
	Lookup(ctx context.Context, id int64) (stores.Record, bool, error)
	Insert(ctx context.Context, title string) (stores.Record, error)
	Replace(ctx context.Context, rec stores.Record) (stores.Record, error)
	Remove(ctx context.Context, id int64) error
	Flush(ctx context.Context) error
}

// Repository provides task CRUD. All operations are serialised, so a
// Repository is safe for concurrent use.
type Repository struct {
	mu    sync.Mutex
	store Store
	tel   *telemetry.Telemetry
}

// Option configures a Repository.
type Option func(*Repository)

// WithTelemetry sets the telemetry used for spans, metrics and change events.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(r *Repository) {
		r.tel = tel
	}
}

// NewRepository creates a repository over store.
func NewRepository(store Store, opts ...Option) *Repository {
	r := &Repository{
		store: store,
		tel:   telemetry.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FetchAll returns every task in creation order. An empty store returns an
// empty slice and no error.
func (r *Repository) FetchAll(ctx context.Context) (_ []Task, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	op := r.start(ctx, "tasks.fetch_all")
	defer func() { r.end(op, err) }()

	if err := r.store.EnsureOpen(op.Ctx); err != nil {
		return nil, err
	}

	recs, err := r.store.Load(op.Ctx)
	if err != nil {
		return nil, err
	}

	op.Span.SetAttributes(telemetry.AttrTaskCount.Int(len(recs)))
	r.tel.Metrics.SetTaskCount(len(recs))

	return fromRecords(recs), nil
}

// Create adds a task with the given title and flushes it.
//
// If the flush fails the returned error is a KindSaveFailed StoreError and
// the returned Task is still valid: it stays staged in the store, shows up in
// FetchAll, and is written by the next successful Flush.
func (r *Repository) Create(ctx context.Context, title string) (_ Task, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	op := r.start(ctx, "tasks.create")
	defer func() { r.end(op, err) }()

	if err := r.store.EnsureOpen(op.Ctx); err != nil {
		return Task{}, err
	}

	rec, err := r.store.Insert(op.Ctx, title)
	if err != nil {
		return Task{}, err
	}

	task := fromRecord(rec)
	op.Span.SetAttributes(telemetry.AttrTaskID.Int64(task.ID))

	if err := r.flush(op, task.ID); err != nil {
		return task, err
	}

	r.publish(op, r.tel.Events.PublishTaskCreated(task.ID, task.Title))
	return task, nil
}

// Update renames task. It fails with KindNotFound when task.ID no longer
// exists.
func (r *Repository) Update(ctx context.Context, task Task, newTitle string) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	op := r.start(ctx, "tasks.update", telemetry.AttrTaskID.Int64(task.ID))
	defer func() { r.end(op, err) }()

	if err := r.store.EnsureOpen(op.Ctx); err != nil {
		return err
	}

	rec, found, err := r.store.Lookup(op.Ctx, task.ID)
	if err != nil {
		return err
	}
	if !found {
		return stores.NotFoundError("update", task.ID)
	}

	oldTitle := rec.Title
	rec.Title = newTitle
	if _, err := r.store.Replace(op.Ctx, rec); err != nil {
		return err
	}

	if err := r.flush(op, task.ID); err != nil {
		return err
	}

	r.publish(op, r.tel.Events.PublishTaskUpdated(task.ID, oldTitle, newTitle))
	return nil
}

// Delete removes task. It fails with KindNotFound when task.ID no longer
// exists.
func (r *Repository) Delete(ctx context.Context, task Task) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	op := r.start(ctx, "tasks.delete", telemetry.AttrTaskID.Int64(task.ID))
	defer func() { r.end(op, err) }()

	if err := r.store.EnsureOpen(op.Ctx); err != nil {
		return err
	}

	_, found, err := r.store.Lookup(op.Ctx, task.ID)
	if err != nil {
		return err
	}
	if !found {
		return stores.NotFoundError("delete", task.ID)
	}

	if err := r.store.Remove(op.Ctx, task.ID); err != nil {
		return err
	}

	if err := r.flush(op, task.ID); err != nil {
		return err
	}

	r.publish(op, r.tel.Events.PublishTaskDeleted(task.ID))
	return nil
}

// Flush retries writing any changes left pending by an earlier
// KindSaveFailed. It is a no-op when nothing is pending.
func (r *Repository) Flush(ctx context.Context) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	op := r.start(ctx, "tasks.flush")
	defer func() { r.end(op, err) }()

	if err := r.store.EnsureOpen(op.Ctx); err != nil {
		return err
	}

	return r.flush(op, 0)
}

// flush writes staged changes and announces a failed write.
func (r *Repository) flush(op *telemetry.Operation, id int64) error {
	err := r.store.Flush(op.Ctx)
	if err != nil && stores.KindOf(err) == stores.KindSaveFailed {
		r.publish(op, r.tel.Events.PublishFlushFailed(id, err.Error()))
	}
	return err
}

func (r *Repository) start(ctx context.Context, name string, attrs ...attribute.KeyValue) *telemetry.Operation {
	op := r.tel.StartOperation(ctx, name, attrs...)
	op.Logger = op.Logger.WithOperationID(uuid.New().String())
	return op
}

func (r *Repository) end(op *telemetry.Operation, err error) {
	status := statusOK
	if err != nil {
		status = string(stores.KindOf(err))
		if status == "" {
			status = "error"
		}
		op.Logger.WithError(err).WithField("status", status).Debug("operation failed")
	} else {
		op.Logger.Debug("operation completed")
	}
	op.End(status, err)
}

// publish logs event delivery problems. They never fail the operation.
func (r *Repository) publish(op *telemetry.Operation, err error) {
	if err != nil {
		op.Logger.WithError(err).Debug("failed to publish event")
	}
}
