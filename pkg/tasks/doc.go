// Package tasks exposes task-level CRUD on top of the SQLite store.
//
// Repository serialises every operation and makes each mutation durable
// before returning: Create, Update and Delete stage the change in the store
// and flush it in the same call. Failures are the store's *StoreError values,
// so callers classify them with errors.Is against the stores sentinels.
//
// Basic usage:
//
//	store, err := stores.NewSQLiteStore(stores.Config{Path: "data/tasks.db"})
//	if err != nil {
//		return err
//	}
//	repo := tasks.NewRepository(store)
//
//	task, err := repo.Create(ctx, "Buy milk")
//	if errors.Is(err, stores.ErrSaveFailed) {
//		// task is staged but not yet durable; retry with repo.Flush
//	}
package tasks
