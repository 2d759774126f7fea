package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrBatchTooLarge is returned when a batch exceeds MaxBatchOperations.
	ErrBatchTooLarge = errors.New("persistence: batch exceeds operation limit")
	// ErrBatchCommitted is returned when a committed batch is reused.
	ErrBatchCommitted = errors.New("persistence: batch already committed")
)
