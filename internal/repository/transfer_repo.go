package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"tranche/internal/db"
	"tranche/internal/engine"
	"tranche/internal/models"
)

type scanner interface {
	Scan(dest ...any) error
}

const transferColumns = `id, amount, recipient, status, current_step_index, total_steps, percent,
	suspended_from, suspend_reason, created_at, updated_at`

// TransferRepository is the Postgres adapter behind engine.Store. Row-level
// locking (SELECT ... FOR UPDATE) is the per-transfer serialization point.
type TransferRepository struct {
	db *db.DB
}

// NewTransferRepository creates a new transfer repository.
func NewTransferRepository(database *db.DB) *TransferRepository {
	return &TransferRepository{db: database}
}

// CreateTransfer inserts the transfer and its code set in one transaction.
func (r *TransferRepository) CreateTransfer(ctx context.Context, t *models.Transfer, set []models.ValidationCode) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO transfers (id, amount, recipient, status, current_step_index, total_steps, percent, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			t.ID, t.Amount, t.Recipient, t.Status, t.CurrentStepIndex, t.TotalSteps, t.Percent, t.CreatedAt, t.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert transfer: %w", err)
		}

		for _, c := range set {
			_, err := tx.Exec(ctx, `
				INSERT INTO validation_codes (transfer_id, sequence, code, pause_percent, code_context)
				VALUES ($1, $2, $3, $4, $5)`,
				c.TransferID, c.Sequence, c.Code, c.PausePercent, c.CodeContext,
			)
			if err != nil {
				return fmt.Errorf("insert validation code %d: %w", c.Sequence, err)
			}
		}
		return nil
	})
}

// GetTransfer retrieves a transfer by ID.
func (r *TransferRepository) GetTransfer(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	query := fmt.Sprintf(`SELECT %s FROM transfers WHERE id = $1`, transferColumns)
	t, err := scanTransfer(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.ErrNotFound
	}
	return t, err
}

// ListTransfers retrieves transfers matching the filter, newest first.
func (r *TransferRepository) ListTransfers(ctx context.Context, filter models.TransferFilter) ([]*models.Transfer, error) {
	conditions := []string{"TRUE"}
	var args []any
	argNum := 1

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, *filter.Status)
		argNum++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM transfers
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		transferColumns,
		strings.Join(conditions, " AND "),
		argNum,
		argNum+1,
	)
	args = append(args, limit, offset)

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()

	var transfers []*models.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

// ListCodes retrieves the code set in sequence order.
func (r *TransferRepository) ListCodes(ctx context.Context, transferID uuid.UUID) ([]models.ValidationCode, error) {
	return queryCodes(ctx, r.db.Pool(), transferID)
}

// WithTransferLock runs fn while holding an exclusive row lock on the
// transfer, inside one transaction. Two concurrent submissions for the
// same transfer serialize here; exactly one observes the pre-advance state.
func (r *TransferRepository) WithTransferLock(ctx context.Context, id uuid.UUID, fn func(view engine.TxView) error) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		query := fmt.Sprintf(`SELECT %s FROM transfers WHERE id = $1 FOR UPDATE`, transferColumns)
		t, err := scanTransfer(tx.QueryRow(ctx, query, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return engine.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock transfer: %w", err)
		}
		return fn(&txView{tx: tx, transfer: t})
	})
}

// txView is the locked, transaction-scoped view handed to the engine.
type txView struct {
	tx       pgx.Tx
	transfer *models.Transfer
}

func (v *txView) Transfer() *models.Transfer {
	return v.transfer
}

func (v *txView) Codes(ctx context.Context) ([]models.ValidationCode, error) {
	return queryCodes(ctx, v.tx, v.transfer.ID)
}

func (v *txView) MarkConsumed(ctx context.Context, sequence int, at time.Time) error {
	tag, err := v.tx.Exec(ctx, `
		UPDATE validation_codes
		SET consumed_at = $3
		WHERE transfer_id = $1 AND sequence = $2 AND consumed_at IS NULL`,
		v.transfer.ID, sequence, at,
	)
	if err != nil {
		return fmt.Errorf("mark code consumed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark code consumed: no unconsumed code at sequence %d", sequence)
	}
	return nil
}

func (v *txView) UpdateProgress(ctx context.Context, stepIndex, percent int, status models.TransferStatus) error {
	_, err := v.tx.Exec(ctx, `
		UPDATE transfers
		SET current_step_index = $2, percent = $3, status = $4, updated_at = NOW()
		WHERE id = $1`,
		v.transfer.ID, stepIndex, percent, status,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

func (v *txView) SetSuspension(ctx context.Context, status models.TransferStatus, from *models.TransferStatus, reason *string) error {
	_, err := v.tx.Exec(ctx, `
		UPDATE transfers
		SET status = $2, suspended_from = $3, suspend_reason = $4, updated_at = NOW()
		WHERE id = $1`,
		v.transfer.ID, status, from, reason,
	)
	if err != nil {
		return fmt.Errorf("set suspension: %w", err)
	}
	return nil
}

// querier covers both the pool and an open transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryCodes(ctx context.Context, q querier, transferID uuid.UUID) ([]models.ValidationCode, error) {
	rows, err := q.Query(ctx, `
		SELECT transfer_id, sequence, code, pause_percent, code_context, consumed_at
		FROM validation_codes
		WHERE transfer_id = $1
		ORDER BY sequence`,
		transferID,
	)
	if err != nil {
		return nil, fmt.Errorf("query validation codes: %w", err)
	}
	defer rows.Close()

	var set []models.ValidationCode
	for rows.Next() {
		var c models.ValidationCode
		if err := rows.Scan(&c.TransferID, &c.Sequence, &c.Code, &c.PausePercent, &c.CodeContext, &c.ConsumedAt); err != nil {
			return nil, fmt.Errorf("scan validation code: %w", err)
		}
		set = append(set, c)
	}
	return set, rows.Err()
}

func scanTransfer(s scanner) (*models.Transfer, error) {
	var t models.Transfer
	var suspendedFrom *string

	err := s.Scan(
		&t.ID,
		&t.Amount,
		&t.Recipient,
		&t.Status,
		&t.CurrentStepIndex,
		&t.TotalSteps,
		&t.Percent,
		&suspendedFrom,
		&t.SuspendReason,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if suspendedFrom != nil {
		status := models.TransferStatus(*suspendedFrom)
		t.SuspendedFrom = &status
	}
	return &t, nil
}
