// Package client is the dashboard-side progress pipeline for staged
// transfers. It merges polled snapshots with pushed events into one
// monotonic percentage and animates the displayed value smoothly through
// every intermediate state, however fast the server jumps.
package client

import "time"

// Status mirrors the server's transfer status values.
type Status string

const (
	StatusPending    Status = "pending"
	StatusValidating Status = "validating"
	StatusInProgress Status = "in-progress"
	StatusSuspended  Status = "suspended"
	StatusCompleted  Status = "completed"
)

// IsTerminal returns true for statuses after which no progress event can
// follow.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted
}

// EventKind is the closed set of progress event types on the wire.
type EventKind string

const (
	EventTransferProgressed EventKind = "transfer.progressed"
	EventTransferSuspended  EventKind = "transfer.suspended"
	EventTransferResumed    EventKind = "transfer.resumed"
)

// Event is a state-change notification received from the stream. Delivery
// is at-least-once with no gap detection, so consumers must tolerate
// duplicates and stale arrivals.
type Event struct {
	EventID    string    `json:"event_id"`
	Kind       EventKind `json:"kind"`
	TransferID string    `json:"transfer_id"`
	Seq        int       `json:"seq"`
	Percent    int       `json:"percent"`
	TotalSteps int       `json:"total_steps"`
	Status     Status    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Snapshot is the pull-based progress view used to (re)synchronize.
type Snapshot struct {
	TransferID string    `json:"transfer_id"`
	Percent    int       `json:"percent"`
	Status     Status    `json:"status"`
	StepIndex  int       `json:"step_index"`
	TotalSteps int       `json:"total_steps"`
	UpdatedAt  time.Time `json:"updated_at"`
}
