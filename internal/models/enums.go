package models

// TransferStatus represents the state machine status of a staged transfer.
type TransferStatus string

const (
	TransferStatusPending    TransferStatus = "pending"
	TransferStatusValidating TransferStatus = "validating"
	TransferStatusInProgress TransferStatus = "in-progress"
	TransferStatusSuspended  TransferStatus = "suspended"
	TransferStatusCompleted  TransferStatus = "completed"
)

// IsTerminal returns true if the status is a terminal state.
func (s TransferStatus) IsTerminal() bool {
	return s == TransferStatusCompleted
}

// AcceptsCodes returns true if codes may be applied in this status.
func (s TransferStatus) AcceptsCodes() bool {
	switch s {
	case TransferStatusPending, TransferStatusValidating, TransferStatusInProgress:
		return true
	default:
		return false
	}
}

// CodeContext classifies what a validation code authorizes. Display and
// audit only, never part of gating logic.
type CodeContext string

const (
	CodeContextIdentity   CodeContext = "identity"
	CodeContextCompliance CodeContext = "compliance"
	CodeContextRelease    CodeContext = "release"
)
