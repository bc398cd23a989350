package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for the taxonomy the HTTP boundary translates to status
// codes. Components wrap these with %w so callers can errors.Is them without
// seeing driver detail.
var (
	// ErrUnauthorized covers missing/invalid sessions, wrong roles and wrong
	// API keys. Handlers must not attach any detail that reveals whether a
	// username exists.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrStorageUnavailable is the retryable condition: pool exhausted,
	// connection dead, or storage initialization never completed.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotFound marks operations on a nonexistent record. Delete treats it
	// as a no-op success; authenticate folds it into ErrUnauthorized.
	ErrNotFound = errors.New("not found")

	// ErrPoolClosed is returned by Acquire after Shutdown.
	ErrPoolClosed = errors.New("connection pool is closed")
)

// ValidationError reports malformed input with the specific rule that failed.
// It never accompanies a partial write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// StorageError wraps a storage-layer fault so the raw driver error never
// reaches end users. It matches ErrStorageUnavailable under errors.Is.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is lets callers test for the retryable condition without unwrapping to the
// driver error.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorageUnavailable
}

// WrapStorage wraps err as a StorageError for operation op. Returns nil when
// err is nil.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
