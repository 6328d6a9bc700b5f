package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tranche/internal/models"
)

// Store is the persistence port the engine drives. The Postgres adapter
// lives in internal/repository; tests supply an in-memory implementation.
type Store interface {
	// CreateTransfer inserts the transfer and its full code set in one
	// transaction.
	CreateTransfer(ctx context.Context, t *models.Transfer, set []models.ValidationCode) error

	// GetTransfer returns the transfer, or ErrNotFound.
	GetTransfer(ctx context.Context, id uuid.UUID) (*models.Transfer, error)

	// ListTransfers returns transfers matching the filter, newest first.
	ListTransfers(ctx context.Context, filter models.TransferFilter) ([]*models.Transfer, error)

	// ListCodes returns the code set in sequence order.
	ListCodes(ctx context.Context, transferID uuid.UUID) ([]models.ValidationCode, error)

	// WithTransferLock runs fn while holding an exclusive lock on the
	// transfer row, serializing concurrent mutations per transfer. All
	// writes made through the view commit atomically with fn's success,
	// or roll back on its error.
	WithTransferLock(ctx context.Context, id uuid.UUID, fn func(view TxView) error) error
}

// TxView is the locked, transaction-scoped view of one transfer. The
// engine is the only component that mutates through it.
type TxView interface {
	// Transfer returns the row as loaded under the lock.
	Transfer() *models.Transfer

	// Codes returns the transfer's code set in sequence order.
	Codes(ctx context.Context) ([]models.ValidationCode, error)

	// MarkConsumed sets consumed_at for the code at sequence.
	MarkConsumed(ctx context.Context, sequence int, at time.Time) error

	// UpdateProgress advances step index, percent and status.
	UpdateProgress(ctx context.Context, stepIndex, percent int, status models.TransferStatus) error

	// SetSuspension moves the transfer in or out of suspension. For
	// suspend, from holds the status to restore and reason the audit
	// note; for resume both are nil and status is the restored one.
	SetSuspension(ctx context.Context, status models.TransferStatus, from *models.TransferStatus, reason *string) error
}
