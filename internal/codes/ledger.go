// Package codes implements the validation code ledger: issuance, audit
// reads and single-use consumption of the ordered code set gating a staged
// transfer's release.
package codes

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"tranche/internal/models"
)

const secretDigits = 6

// Reader provides read access to the stored code set.
type Reader interface {
	ListCodes(ctx context.Context, transferID uuid.UUID) ([]models.ValidationCode, error)
}

// ConsumeView is the transaction-scoped view Consume operates on. It is
// satisfied by the engine's locked store view, so the compare-and-set runs
// under the per-transfer row lock.
type ConsumeView interface {
	Codes(ctx context.Context) ([]models.ValidationCode, error)
	MarkConsumed(ctx context.Context, sequence int, at time.Time) error
}

// Ledger owns the lifecycle of validation codes.
type Ledger struct {
	reader Reader
}

// NewLedger creates a ledger over the given code reader.
func NewLedger(reader Reader) *Ledger {
	return &Ledger{reader: reader}
}

// Issue validates the stage definitions and generates the ordered code set
// for a transfer. Secrets are returned exactly once, in the IssuedCode
// slice; persistence happens atomically with the transfer insert, driven by
// the caller.
func (l *Ledger) Issue(transferID uuid.UUID, stages []models.StageDefinition) ([]models.ValidationCode, []models.IssuedCode, error) {
	if err := ValidateStages(stages); err != nil {
		return nil, nil, err
	}

	set := make([]models.ValidationCode, 0, len(stages))
	issued := make([]models.IssuedCode, 0, len(stages))
	for i, stage := range stages {
		secret, err := generateSecret()
		if err != nil {
			return nil, nil, fmt.Errorf("generate code secret: %w", err)
		}
		set = append(set, models.ValidationCode{
			TransferID:   transferID,
			Sequence:     i + 1,
			Code:         secret,
			PausePercent: stage.PausePercent,
			CodeContext:  stage.CodeContext,
		})
		issued = append(issued, models.IssuedCode{
			Sequence:     i + 1,
			Code:         secret,
			PausePercent: stage.PausePercent,
			CodeContext:  stage.CodeContext,
		})
	}
	return set, issued, nil
}

// PeekNext returns the lowest-sequence unconsumed code's metadata, never
// the secret. Returns nil when every code is consumed.
func (l *Ledger) PeekNext(ctx context.Context, transferID uuid.UUID) (*models.CodeInfo, error) {
	set, err := l.reader.ListCodes(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("list codes: %w", err)
	}
	for i := range set {
		if !set[i].Consumed() {
			info := set[i].Info()
			return &info, nil
		}
	}
	return nil, nil
}

// List returns metadata for the full code set in sequence order.
func (l *Ledger) List(ctx context.Context, transferID uuid.UUID) ([]models.CodeInfo, error) {
	set, err := l.reader.ListCodes(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("list codes: %w", err)
	}
	infos := make([]models.CodeInfo, len(set))
	for i := range set {
		infos[i] = set[i].Info()
	}
	return infos, nil
}

// Consume applies the compare-and-set gating a stage boundary. It succeeds
// only when supplied matches the secret at sequence, sequence is the next
// required one (currentStepIndex+1), and the code is unconsumed. The caller
// must hold the per-transfer lock; exactly one of two concurrent
// submissions for the same sequence can win.
func (l *Ledger) Consume(ctx context.Context, view ConsumeView, currentStepIndex, sequence int, supplied string, now time.Time) (*models.ValidationCode, error) {
	set, err := view.Codes(ctx)
	if err != nil {
		return nil, fmt.Errorf("load codes: %w", err)
	}

	var code *models.ValidationCode
	for i := range set {
		if set[i].Sequence == sequence {
			code = &set[i]
			break
		}
	}
	if code == nil {
		return nil, ErrOutOfOrder
	}
	if code.Consumed() {
		return nil, ErrAlreadyConsumed
	}
	if sequence != currentStepIndex+1 {
		return nil, ErrOutOfOrder
	}
	if supplied != code.Code {
		return nil, ErrCodeMismatch
	}

	if err := view.MarkConsumed(ctx, sequence, now); err != nil {
		return nil, fmt.Errorf("mark consumed: %w", err)
	}
	code.ConsumedAt = &now
	return code, nil
}

// ValidateStages checks that the stage list is non-empty and that pause
// percentages form a strictly increasing sequence within (0, 100].
func ValidateStages(stages []models.StageDefinition) error {
	if len(stages) == 0 {
		return fmt.Errorf("%w: no stages defined", ErrInvalidStageDefinition)
	}
	prev := 0
	for i, stage := range stages {
		if stage.PausePercent <= prev {
			return fmt.Errorf("%w: pause percent at stage %d must exceed %d, got %d",
				ErrInvalidStageDefinition, i+1, prev, stage.PausePercent)
		}
		if stage.PausePercent > 100 {
			return fmt.Errorf("%w: pause percent at stage %d exceeds 100", ErrInvalidStageDefinition, i+1)
		}
		prev = stage.PausePercent
	}
	return nil
}

// generateSecret produces a zero-padded numeric secret suitable for being
// read aloud by support staff.
func generateSecret() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < secretDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", secretDigits, n), nil
}
