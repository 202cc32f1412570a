// Package stores provides the SQLite-backed persistence layer for tasks.
//
// SQLiteStore opens its database lazily, stages mutations in memory and
// writes them on Flush only when something changed. Failures are returned
// as *StoreError values classified by ErrorKind; the store never panics or
// exits on a storage error.
package stores
