package stores

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a store failure so callers can decide whether to
// retry, resynchronise, or give up.
type ErrorKind string

const (
	// KindOpenFailed means the database could not be opened or created.
	// The store refuses further work until Reopen succeeds.
	KindOpenFailed ErrorKind = "open_failed"

	// KindSaveFailed means a flush could not commit. Pending changes and the
	// dirty flag are kept, so the flush can be retried.
	KindSaveFailed ErrorKind = "save_failed"

	// KindFetchFailed means records could not be read. Retryable.
	KindFetchFailed ErrorKind = "fetch_failed"

	// KindNotFound means a referenced record no longer exists. The caller
	// should re-fetch before retrying.
	KindNotFound ErrorKind = "not_found"
)

// StoreError is the error type returned across the store boundary.
type StoreError struct {
	// Kind is the failure classification.
	Kind ErrorKind

	// Op is the operation that failed (open, flush, load, lookup, ...).
	Op string

	// ID is the record involved, if any.
	ID int64

	// Err is the underlying cause.
	Err error
}

// Sentinels for errors.Is. Matching compares Kind only.
var (
	ErrOpenFailed  = &StoreError{Kind: KindOpenFailed}
	ErrSaveFailed  = &StoreError{Kind: KindSaveFailed}
	ErrFetchFailed = &StoreError{Kind: KindFetchFailed}
	ErrNotFound    = &StoreError{Kind: KindNotFound}
)

// errStoreClosed is the cause recorded once Close has been called.
var errStoreClosed = errors.New("store closed")

// Error implements the error interface.
func (e *StoreError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Op)
	if e.ID != 0 {
		msg = fmt.Sprintf("%s (id=%d)", msg, e.ID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a StoreError of the same kind.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf returns the kind of the first StoreError in err's chain, or ""
// when there is none.
func KindOf(err error) ErrorKind {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// NotFoundError returns a KindNotFound error for id.
func NotFoundError(op string, id int64) *StoreError {
	return &StoreError{
		Kind: KindNotFound,
		Op:   op,
		ID:   id,
		Err:  fmt.Errorf("record %d not found", id),
	}
}

func newOpenError(err error) *StoreError {
	return &StoreError{Kind: KindOpenFailed, Op: "open", Err: err}
}

func newSaveError(op string, err error) *StoreError {
	return &StoreError{Kind: KindSaveFailed, Op: op, Err: err}
}

func newFetchError(op string, id int64, err error) *StoreError {
	return &StoreError{Kind: KindFetchFailed, Op: op, ID: id, Err: err}
}
