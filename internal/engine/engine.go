// Package engine implements the stage transition engine: the single
// authority that turns a successful validation code consumption into a
// transfer state change. It is the only writer of a transfer's status and
// step index.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tranche/internal/codes"
	"tranche/internal/models"
)

// Publisher fans state-change events out to subscribed clients. Publish
// must not block the caller; delivery is best-effort with internal retry.
type Publisher interface {
	Publish(ctx context.Context, evt models.Event)
}

// Config holds engine tuning.
type Config struct {
	// RetryAttempts bounds how often a failed persistence operation is
	// retried before it is surfaced as fatal.
	RetryAttempts int
	// RetryBackoff is the base delay between attempts, doubled each time.
	RetryBackoff time.Duration
}

// Engine coordinates the ledger, the transfer store and the propagation
// channel.
type Engine struct {
	store         Store
	ledger        *codes.Ledger
	publisher     Publisher
	logger        *zap.Logger
	retryAttempts int
	retryBackoff  time.Duration
}

// New creates an engine. Zero config values fall back to 3 attempts with a
// 50ms base backoff.
func New(store Store, ledger *codes.Ledger, publisher Publisher, logger *zap.Logger, cfg Config) *Engine {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 50 * time.Millisecond
	}
	return &Engine{
		store:         store,
		ledger:        ledger,
		publisher:     publisher,
		logger:        logger,
		retryAttempts: cfg.RetryAttempts,
		retryBackoff:  cfg.RetryBackoff,
	}
}

// Create originates a transfer together with its full code set, atomically.
// The issued secrets are returned exactly once, to this caller.
func (e *Engine) Create(ctx context.Context, params models.CreateTransferParams) (*models.Transfer, []models.IssuedCode, error) {
	if params.Recipient == "" {
		return nil, nil, fmt.Errorf("recipient is required")
	}
	if !params.Amount.IsPositive() {
		return nil, nil, fmt.Errorf("amount must be positive")
	}

	id := uuid.New()
	set, issued, err := e.ledger.Issue(id, params.Stages)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	t := &models.Transfer{
		ID:               id,
		Amount:           params.Amount,
		Recipient:        params.Recipient,
		Status:           models.TransferStatusPending,
		CurrentStepIndex: 0,
		TotalSteps:       len(set),
		Percent:          0,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := e.store.CreateTransfer(ctx, t, set); err != nil {
		return nil, nil, fmt.Errorf("create transfer: %w", err)
	}

	e.logger.Info("transfer created",
		zap.String("transfer_id", t.ID.String()),
		zap.Int("total_steps", t.TotalSteps),
	)
	return t, issued, nil
}

// ApplyCode consumes the validation code at sequence and advances the
// transfer one stage. Ledger consumption and the transfer update commit in
// one transaction; on any gating error no state is mutated. The resulting
// event is published fire-and-forget after commit.
func (e *Engine) ApplyCode(ctx context.Context, transferID uuid.UUID, sequence int, supplied string) (*models.Transfer, error) {
	var updated *models.Transfer

	err := e.withRetry(ctx, "apply code", func() error {
		return e.store.WithTransferLock(ctx, transferID, func(view TxView) error {
			t := view.Transfer()
			if t.IsComplete() {
				return ErrAlreadyCompleted
			}
			if t.IsSuspended() {
				return ErrTransferSuspended
			}

			now := time.Now().UTC()
			consumed, err := e.ledger.Consume(ctx, view, t.CurrentStepIndex, sequence, supplied, now)
			if err != nil {
				return err
			}

			newIndex := t.CurrentStepIndex + 1
			percent := consumed.PausePercent
			var status models.TransferStatus
			switch {
			case newIndex == t.TotalSteps:
				status = models.TransferStatusCompleted
				percent = 100
			case newIndex == 1:
				status = models.TransferStatusValidating
			default:
				status = models.TransferStatusInProgress
			}
			if err := models.ValidateTransition(t.Status, status); err != nil {
				return fmt.Errorf("advance transfer: %w", err)
			}

			if err := view.UpdateProgress(ctx, newIndex, percent, status); err != nil {
				return err
			}

			result := *t
			result.CurrentStepIndex = newIndex
			result.Percent = percent
			result.Status = status
			result.UpdatedAt = now
			updated = &result
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	e.publisher.Publish(context.WithoutCancel(ctx), models.NewEvent(models.EventTransferProgressed, updated, ""))
	e.logger.Info("stage released",
		zap.String("transfer_id", transferID.String()),
		zap.Int("step", updated.CurrentStepIndex),
		zap.Int("percent", updated.Percent),
		zap.String("status", string(updated.Status)),
	)
	return updated, nil
}

// Suspend freezes code application until Resume. The prior status is
// remembered so resume restores it exactly. Suspending an already
// suspended transfer is a no-op.
func (e *Engine) Suspend(ctx context.Context, transferID uuid.UUID, reason string) (*models.Transfer, error) {
	var updated *models.Transfer

	err := e.withRetry(ctx, "suspend", func() error {
		return e.store.WithTransferLock(ctx, transferID, func(view TxView) error {
			t := view.Transfer()
			if t.IsSuspended() {
				result := *t
				updated = &result
				return nil
			}
			if err := models.ValidateTransition(t.Status, models.TransferStatusSuspended); err != nil {
				return fmt.Errorf("suspend transfer: %w", err)
			}

			from := t.Status
			if err := view.SetSuspension(ctx, models.TransferStatusSuspended, &from, &reason); err != nil {
				return err
			}

			result := *t
			result.Status = models.TransferStatusSuspended
			result.SuspendedFrom = &from
			result.SuspendReason = &reason
			result.UpdatedAt = time.Now().UTC()
			updated = &result
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	e.publisher.Publish(context.WithoutCancel(ctx), models.NewEvent(models.EventTransferSuspended, updated, reason))
	e.logger.Warn("transfer suspended",
		zap.String("transfer_id", transferID.String()),
		zap.String("reason", reason),
	)
	return updated, nil
}

// Resume restores the status the transfer was suspended from.
func (e *Engine) Resume(ctx context.Context, transferID uuid.UUID) (*models.Transfer, error) {
	var updated *models.Transfer

	err := e.withRetry(ctx, "resume", func() error {
		return e.store.WithTransferLock(ctx, transferID, func(view TxView) error {
			t := view.Transfer()
			if !t.IsSuspended() {
				return ErrNotSuspended
			}
			restored := models.TransferStatusValidating
			if t.SuspendedFrom != nil {
				restored = *t.SuspendedFrom
			}
			if err := models.ValidateTransition(t.Status, restored); err != nil {
				return fmt.Errorf("resume transfer: %w", err)
			}

			if err := view.SetSuspension(ctx, restored, nil, nil); err != nil {
				return err
			}

			result := *t
			result.Status = restored
			result.SuspendedFrom = nil
			result.SuspendReason = nil
			result.UpdatedAt = time.Now().UTC()
			updated = &result
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	e.publisher.Publish(context.WithoutCancel(ctx), models.NewEvent(models.EventTransferResumed, updated, ""))
	e.logger.Info("transfer resumed",
		zap.String("transfer_id", transferID.String()),
		zap.String("status", string(updated.Status)),
	)
	return updated, nil
}

// Get returns the transfer record.
func (e *Engine) Get(ctx context.Context, transferID uuid.UUID) (*models.Transfer, error) {
	return e.store.GetTransfer(ctx, transferID)
}

// List returns transfers matching the filter.
func (e *Engine) List(ctx context.Context, filter models.TransferFilter) ([]*models.Transfer, error) {
	return e.store.ListTransfers(ctx, filter)
}

// Codes returns the metadata-only code listing for the operator surface.
func (e *Engine) Codes(ctx context.Context, transferID uuid.UUID) ([]models.CodeInfo, error) {
	if _, err := e.store.GetTransfer(ctx, transferID); err != nil {
		return nil, err
	}
	return e.ledger.List(ctx, transferID)
}

// PeekNext returns the next required code's metadata, or nil when all codes
// are consumed.
func (e *Engine) PeekNext(ctx context.Context, transferID uuid.UUID) (*models.CodeInfo, error) {
	if _, err := e.store.GetTransfer(ctx, transferID); err != nil {
		return nil, err
	}
	return e.ledger.PeekNext(ctx, transferID)
}

// withRetry retries op with exponential backoff on persistence-class
// failures. Gating errors are returned immediately; exhausted retries are
// wrapped in ErrPersistence.
func (e *Engine) withRetry(ctx context.Context, op string, fn func() error) error {
	backoff := e.retryBackoff
	var err error
	for attempt := 1; attempt <= e.retryAttempts; attempt++ {
		err = fn()
		if err == nil || isGatingError(err) {
			return err
		}
		if attempt == e.retryAttempts {
			break
		}
		e.logger.Warn("persistence failure, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrPersistence, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

// isGatingError reports whether err is a business outcome rather than a
// storage failure.
func isGatingError(err error) bool {
	return errors.Is(err, codes.ErrCodeMismatch) ||
		errors.Is(err, codes.ErrOutOfOrder) ||
		errors.Is(err, codes.ErrAlreadyConsumed) ||
		errors.Is(err, codes.ErrInvalidStageDefinition) ||
		errors.Is(err, ErrTransferSuspended) ||
		errors.Is(err, ErrNotSuspended) ||
		errors.Is(err, ErrAlreadyCompleted) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, models.ErrIllegalTransition)
}
