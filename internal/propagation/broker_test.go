package propagation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tranche/internal/engine"
	"tranche/internal/models"
)

type fakeSource struct {
	transfers map[uuid.UUID]*models.Transfer
}

func (s *fakeSource) GetTransfer(_ context.Context, id uuid.UUID) (*models.Transfer, error) {
	t, ok := s.transfers[id]
	if !ok {
		return nil, engine.ErrNotFound
	}
	return t, nil
}

func newTestBroker(t *testing.T, source *fakeSource) *Broker {
	t.Helper()
	b := New(nil, source, zap.NewNop(), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	b.Start(ctx)
	return b
}

func progressedEvent(transferID uuid.UUID, seq, percent int) models.Event {
	return models.Event{
		EventID:    uuid.New(),
		Kind:       models.EventTransferProgressed,
		TransferID: transferID,
		Seq:        seq,
		Percent:    percent,
		TotalSteps: 3,
		Status:     models.TransferStatusInProgress,
		OccurredAt: time.Now().UTC(),
	}
}

func collect(t *testing.T, ch <-chan models.Event, n int) []models.Event {
	t.Helper()
	out := make([]models.Event, 0, n)
	for len(out) < n {
		select {
		case evt := <-ch:
			out = append(out, evt)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestBroker_FanOutPreservesOrder(t *testing.T) {
	transferID := uuid.New()
	b := newTestBroker(t, &fakeSource{})

	chA, cancelA := b.Subscribe(transferID)
	defer cancelA()
	chB, cancelB := b.Subscribe(transferID)
	defer cancelB()

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		b.Publish(ctx, progressedEvent(transferID, i, i*30))
	}

	for _, ch := range []<-chan models.Event{chA, chB} {
		got := collect(t, ch, 3)
		assert.Equal(t, []int{1, 2, 3}, []int{got[0].Seq, got[1].Seq, got[2].Seq})
	}
}

func TestBroker_RoutesByTransfer(t *testing.T) {
	mine := uuid.New()
	other := uuid.New()
	b := newTestBroker(t, &fakeSource{})

	ch, cancel := b.Subscribe(mine)
	defer cancel()

	ctx := context.Background()
	b.Publish(ctx, progressedEvent(other, 1, 30))
	b.Publish(ctx, progressedEvent(mine, 1, 30))

	got := collect(t, ch, 1)
	assert.Equal(t, mine, got[0].TransferID)

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event for transfer %s", evt.TransferID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroker_CancelClosesChannel(t *testing.T) {
	transferID := uuid.New()
	b := newTestBroker(t, &fakeSource{})

	ch, cancel := b.Subscribe(transferID)
	cancel()
	cancel() // idempotent

	_, open := <-ch
	assert.False(t, open)

	// Publishing after the last subscriber left must not panic or block
	b.Publish(context.Background(), progressedEvent(transferID, 1, 30))
}

func TestBroker_SnapshotFallsBackToStore(t *testing.T) {
	transferID := uuid.New()
	source := &fakeSource{transfers: map[uuid.UUID]*models.Transfer{
		transferID: {
			ID:               transferID,
			Status:           models.TransferStatusValidating,
			CurrentStepIndex: 1,
			TotalSteps:       3,
			Percent:          30,
		},
	}}
	b := newTestBroker(t, source)

	snap, err := b.Snapshot(context.Background(), transferID)
	require.NoError(t, err)
	assert.Equal(t, transferID, snap.TransferID)
	assert.Equal(t, 30, snap.Percent)
	assert.Equal(t, models.TransferStatusValidating, snap.Status)

	_, err = b.Snapshot(context.Background(), uuid.New())
	assert.ErrorIs(t, err, engine.ErrNotFound)
}
