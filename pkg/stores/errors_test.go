package stores

import (
	"errors"
	"fmt"
	"testing"
)

func TestStoreErrorIs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", newSaveError("flush", errors.New("disk full")))

	if !errors.Is(err, ErrSaveFailed) {
		t.Error("expected wrapped error to match ErrSaveFailed")
	}
	if errors.Is(err, ErrOpenFailed) {
		t.Error("expected wrapped error not to match ErrOpenFailed")
	}
	if got := KindOf(err); got != KindSaveFailed {
		t.Errorf("expected kind %s, got %s", KindSaveFailed, got)
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("expected empty kind for plain error, got %s", got)
	}
}

func TestStoreErrorUnwrap(t *testing.T) {
	cause := errors.New("no such table: tasks")
	err := newFetchError("load", 0, cause)

	if !errors.Is(err, cause) {
		t.Error("expected the cause to be reachable through Unwrap")
	}
}

func TestStoreErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *StoreError
		want string
	}{
		{
			name: "with id",
			err:  NotFoundError("update", 7),
			want: "[not_found] update (id=7): record 7 not found",
		},
		{
			name: "without id",
			err:  newOpenError(errStoreClosed),
			want: "[open_failed] open: store closed",
		},
		{
			name: "bare",
			err:  &StoreError{Kind: KindFetchFailed, Op: "load"},
			want: "[fetch_failed] load",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
