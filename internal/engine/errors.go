package engine

import "errors"

var (
	// ErrNotFound indicates the transfer does not exist.
	ErrNotFound = errors.New("transfer not found")

	// ErrTransferSuspended blocks all code application until resume.
	ErrTransferSuspended = errors.New("transfer suspended")

	// ErrNotSuspended indicates resume was called on a transfer that is
	// not suspended.
	ErrNotSuspended = errors.New("transfer not suspended")

	// ErrAlreadyCompleted indicates the transfer reached its terminal
	// status; no further codes can be applied.
	ErrAlreadyCompleted = errors.New("transfer already completed")

	// ErrPersistence wraps a storage failure that survived the bounded
	// retry budget. State remains whatever was last durably committed.
	ErrPersistence = errors.New("persistence failure")
)
