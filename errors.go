package affectsdk

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ──────────────────────────────────────────────
// Error taxonomy + bounded retry
// ──────────────────────────────────────────────

// ErrVersionConflict is returned by Store.PutRecord when the expected
// version no longer matches (another writer got there first). Callers
// re-read and retry; it is never surfaced to the conversation path.
var ErrVersionConflict = errors.New("affectsdk: record version conflict")

// StorageError wraps a failure of the durable store. Transient failures
// are retried with bounded backoff; persistent ones are dropped with a
// logged warning. A missed update never fails the conversation turn.
type StorageError struct {
	Op        string
	Err       error
	Transient bool
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("affectsdk: storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// WrapStorage wraps err as a transient StorageError for operation op.
// Store implementations use this so the retry policy can identify
// retryable failures.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err, Transient: true}
}

// IsTransientStorage reports whether err is a retryable storage failure.
func IsTransientStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Transient
}

// withRetry runs fn up to attempts times, backing off exponentially from
// base between tries. Only transient storage errors are retried;
// anything else returns immediately.
func withRetry(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !IsTransientStorage(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		delay := base << uint(i)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
