package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transfer represents a monetary transfer released in gated stages.
type Transfer struct {
	ID               uuid.UUID       `json:"id"`
	Amount           decimal.Decimal `json:"amount"`
	Recipient        string          `json:"recipient"`
	Status           TransferStatus  `json:"status"`
	CurrentStepIndex int             `json:"current_step_index"`
	TotalSteps       int             `json:"total_steps"`
	Percent          int             `json:"percent"`
	SuspendedFrom    *TransferStatus `json:"suspended_from,omitempty"`
	SuspendReason    *string         `json:"suspend_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// IsComplete returns true if every stage has been released.
func (t *Transfer) IsComplete() bool {
	return t.Status == TransferStatusCompleted
}

// IsSuspended returns true while the transfer is administratively frozen.
func (t *Transfer) IsSuspended() bool {
	return t.Status == TransferStatusSuspended
}

// Snapshot derives the progress view clients synchronize against.
func (t *Transfer) Snapshot() ProgressSnapshot {
	return ProgressSnapshot{
		TransferID: t.ID,
		Percent:    t.Percent,
		Status:     t.Status,
		StepIndex:  t.CurrentStepIndex,
		TotalSteps: t.TotalSteps,
		UpdatedAt:  t.UpdatedAt,
	}
}

// StageDefinition describes one gating stage at origination time.
type StageDefinition struct {
	PausePercent int         `json:"pause_percent"`
	CodeContext  CodeContext `json:"code_context"`
}

// CreateTransferParams contains parameters for originating a transfer.
type CreateTransferParams struct {
	Amount    decimal.Decimal
	Recipient string
	Stages    []StageDefinition
}

// TransferFilter contains filter parameters for the operator listing.
type TransferFilter struct {
	Status *TransferStatus
	Limit  int
	Offset int
}
