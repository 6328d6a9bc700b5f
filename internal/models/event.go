package models

import (
	"time"

	"github.com/google/uuid"
)

// EventKind is the closed set of progress event types. Consumers switch
// exhaustively over it.
type EventKind string

const (
	EventTransferProgressed EventKind = "transfer.progressed"
	EventTransferSuspended  EventKind = "transfer.suspended"
	EventTransferResumed    EventKind = "transfer.resumed"
)

// Event is a transfer state-change notification published on the
// propagation channel. Seq is the step index after the change, giving
// subscribers a per-transfer dedupe key alongside EventID.
type Event struct {
	EventID    uuid.UUID      `json:"event_id"`
	Kind       EventKind      `json:"kind"`
	TransferID uuid.UUID      `json:"transfer_id"`
	Seq        int            `json:"seq"`
	Percent    int            `json:"percent"`
	TotalSteps int            `json:"total_steps"`
	Status     TransferStatus `json:"status"`
	Reason     string         `json:"reason,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewEvent builds an event from the post-mutation transfer state.
func NewEvent(kind EventKind, t *Transfer, reason string) Event {
	return Event{
		EventID:    uuid.New(),
		Kind:       kind,
		TransferID: t.ID,
		Seq:        t.CurrentStepIndex,
		Percent:    t.Percent,
		TotalSteps: t.TotalSteps,
		Status:     t.Status,
		Reason:     reason,
		OccurredAt: t.UpdatedAt,
	}
}

// ProgressSnapshot is the pull-based view of a transfer's progress, used by
// late joiners and reconnecting clients to resynchronize.
type ProgressSnapshot struct {
	TransferID uuid.UUID      `json:"transfer_id"`
	Percent    int            `json:"percent"`
	Status     TransferStatus `json:"status"`
	StepIndex  int            `json:"step_index"`
	TotalSteps int            `json:"total_steps"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
