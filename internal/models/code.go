package models

import (
	"time"

	"github.com/google/uuid"
)

// ValidationCode is a single-use secret gating one stage boundary.
// The secret value is never serialized; listing surfaces expose metadata
// only, through CodeInfo.
type ValidationCode struct {
	TransferID   uuid.UUID   `json:"transfer_id"`
	Sequence     int         `json:"sequence"`
	Code         string      `json:"-"`
	PausePercent int         `json:"pause_percent"`
	CodeContext  CodeContext `json:"code_context"`
	ConsumedAt   *time.Time  `json:"consumed_at,omitempty"`
}

// Consumed returns true once the code has been applied.
func (c *ValidationCode) Consumed() bool {
	return c.ConsumedAt != nil
}

// Info strips the secret for audit/display surfaces.
func (c *ValidationCode) Info() CodeInfo {
	return CodeInfo{
		TransferID:   c.TransferID,
		Sequence:     c.Sequence,
		PausePercent: c.PausePercent,
		CodeContext:  c.CodeContext,
		ConsumedAt:   c.ConsumedAt,
	}
}

// CodeInfo is the metadata-only projection of a validation code.
type CodeInfo struct {
	TransferID   uuid.UUID   `json:"transfer_id"`
	Sequence     int         `json:"sequence"`
	PausePercent int         `json:"pause_percent"`
	CodeContext  CodeContext `json:"code_context"`
	ConsumedAt   *time.Time  `json:"consumed_at,omitempty"`
}

// IssuedCode carries a freshly generated code, secret included. Returned
// exactly once from issuance to the originating caller.
type IssuedCode struct {
	Sequence     int         `json:"sequence"`
	Code         string      `json:"code"`
	PausePercent int         `json:"pause_percent"`
	CodeContext  CodeContext `json:"code_context"`
}
