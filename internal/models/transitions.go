package models

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition indicates a status change outside the legal
// transition table.
var ErrIllegalTransition = errors.New("illegal status transition")

// legalTransitions defines the allowed status transitions. Each key is a
// "from" status, the value is the set of valid "to" statuses.
//
// A single-stage transfer jumps straight from pending to completed, and an
// in-progress transfer stays in-progress across intermediate stages, so both
// edges appear here. Suspension is reachable from any code-accepting status
// after the first one; resume edges restore exactly those statuses.
var legalTransitions = map[TransferStatus]map[TransferStatus]bool{
	TransferStatusPending: {
		TransferStatusValidating: true,
		TransferStatusCompleted:  true,
	},
	TransferStatusValidating: {
		TransferStatusInProgress: true,
		TransferStatusCompleted:  true,
		TransferStatusSuspended:  true,
	},
	TransferStatusInProgress: {
		TransferStatusInProgress: true,
		TransferStatusCompleted:  true,
		TransferStatusSuspended:  true,
	},
	TransferStatusSuspended: {
		TransferStatusValidating: true,
		TransferStatusInProgress: true,
	},
	TransferStatusCompleted: {},
}

// ValidateTransition checks whether moving from one status to another is
// legal. It returns nil for a valid edge.
func ValidateTransition(from, to TransferStatus) error {
	validToStates, exists := legalTransitions[from]
	if !exists {
		return fmt.Errorf("%w: unknown source status %s", ErrIllegalTransition, from)
	}
	if !validToStates[to] {
		return fmt.Errorf("%w: %s to %s", ErrIllegalTransition, from, to)
	}
	return nil
}
