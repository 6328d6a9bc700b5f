package codes

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tranche/internal/models"
)

type fakeView struct {
	codes []models.ValidationCode
}

func (v *fakeView) Codes(context.Context) ([]models.ValidationCode, error) {
	return v.codes, nil
}

func (v *fakeView) MarkConsumed(_ context.Context, sequence int, at time.Time) error {
	for i := range v.codes {
		if v.codes[i].Sequence == sequence {
			v.codes[i].ConsumedAt = &at
			return nil
		}
	}
	return fmt.Errorf("no code at sequence %d", sequence)
}

type fakeReader struct {
	codes []models.ValidationCode
}

func (r *fakeReader) ListCodes(context.Context, uuid.UUID) ([]models.ValidationCode, error) {
	return r.codes, nil
}

func stages() []models.StageDefinition {
	return []models.StageDefinition{
		{PausePercent: 30, CodeContext: models.CodeContextIdentity},
		{PausePercent: 70, CodeContext: models.CodeContextCompliance},
		{PausePercent: 100, CodeContext: models.CodeContextRelease},
	}
}

func TestValidateStages(t *testing.T) {
	assert.NoError(t, ValidateStages(stages()))

	assert.ErrorIs(t, ValidateStages(nil), ErrInvalidStageDefinition)
	assert.ErrorIs(t, ValidateStages([]models.StageDefinition{
		{PausePercent: 50}, {PausePercent: 50},
	}), ErrInvalidStageDefinition)
	assert.ErrorIs(t, ValidateStages([]models.StageDefinition{
		{PausePercent: 0},
	}), ErrInvalidStageDefinition)
	assert.ErrorIs(t, ValidateStages([]models.StageDefinition{
		{PausePercent: 101},
	}), ErrInvalidStageDefinition)
}

func TestIssue(t *testing.T) {
	ledger := NewLedger(&fakeReader{})
	transferID := uuid.New()

	set, issued, err := ledger.Issue(transferID, stages())
	require.NoError(t, err)
	require.Len(t, set, 3)
	require.Len(t, issued, 3)

	seen := make(map[string]bool)
	for i := range set {
		assert.Equal(t, transferID, set[i].TransferID)
		assert.Equal(t, i+1, set[i].Sequence)
		assert.Len(t, set[i].Code, 6)
		assert.Equal(t, set[i].Code, issued[i].Code)
		assert.False(t, set[i].Consumed())
		seen[set[i].Code] = true
	}
	// Secrets are random; three identical draws would mean a broken
	// generator rather than bad luck
	assert.GreaterOrEqual(t, len(seen), 2)
}

func TestConsume_Gating(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(&fakeReader{})
	transferID := uuid.New()
	set, issued, err := ledger.Issue(transferID, stages())
	require.NoError(t, err)

	view := &fakeView{codes: set}
	now := time.Now().UTC()

	// Wrong secret
	_, err = ledger.Consume(ctx, view, 0, 1, "not-it", now)
	assert.ErrorIs(t, err, ErrCodeMismatch)

	// Skipping ahead
	_, err = ledger.Consume(ctx, view, 0, 2, issued[1].Code, now)
	assert.ErrorIs(t, err, ErrOutOfOrder)

	// Unknown sequence
	_, err = ledger.Consume(ctx, view, 0, 7, "123456", now)
	assert.ErrorIs(t, err, ErrOutOfOrder)

	// The real thing
	consumed, err := ledger.Consume(ctx, view, 0, 1, issued[0].Code, now)
	require.NoError(t, err)
	assert.Equal(t, 30, consumed.PausePercent)
	require.NotNil(t, view.codes[0].ConsumedAt)

	// Single use
	_, err = ledger.Consume(ctx, view, 1, 1, issued[0].Code, now)
	assert.ErrorIs(t, err, ErrAlreadyConsumed)
}

func TestPeekNext(t *testing.T) {
	ctx := context.Background()
	transferID := uuid.New()

	set, _, err := NewLedger(&fakeReader{}).Issue(transferID, stages())
	require.NoError(t, err)

	reader := &fakeReader{codes: set}
	ledger := NewLedger(reader)

	next, err := ledger.PeekNext(ctx, transferID)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, 1, next.Sequence)

	now := time.Now().UTC()
	reader.codes[0].ConsumedAt = &now
	next, err = ledger.PeekNext(ctx, transferID)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, 2, next.Sequence)

	reader.codes[1].ConsumedAt = &now
	reader.codes[2].ConsumedAt = &now
	next, err = ledger.PeekNext(ctx, transferID)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestList_MetadataOnly(t *testing.T) {
	ctx := context.Background()
	transferID := uuid.New()
	set, _, err := NewLedger(&fakeReader{}).Issue(transferID, stages())
	require.NoError(t, err)

	ledger := NewLedger(&fakeReader{codes: set})
	infos, err := ledger.List(ctx, transferID)
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, []int{30, 70, 100}, []int{infos[0].PausePercent, infos[1].PausePercent, infos[2].PausePercent})
}
