package codes

import "errors"

var (
	// ErrInvalidStageDefinition indicates an empty stage list or pause
	// percentages that are not strictly increasing.
	ErrInvalidStageDefinition = errors.New("invalid stage definition")

	// ErrCodeMismatch indicates the supplied code does not match the secret.
	ErrCodeMismatch = errors.New("validation code mismatch")

	// ErrAlreadyConsumed indicates the code was already applied; the stage
	// has advanced and the caller should refresh.
	ErrAlreadyConsumed = errors.New("validation code already consumed")

	// ErrOutOfOrder indicates the sequence is not the next required one.
	ErrOutOfOrder = errors.New("validation code out of order")
)
