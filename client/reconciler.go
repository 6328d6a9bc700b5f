package client

import "sync"

// TargetSink receives canonical animation targets. *Animator satisfies it.
type TargetSink interface {
	PushTarget(p float64)
}

// StatusFunc is invoked whenever the reconciled status changes.
type StatusFunc func(Status)

// Reconciler turns possibly-duplicated, possibly-stale events plus
// periodic snapshots into exactly one monotonic target stream. Poll and
// push goroutines both feed it; the internal lock makes it the single
// writer of the last-applied percent, so a poll result and a concurrent
// event can never race the displayed state.
type Reconciler struct {
	sink     TargetSink
	onStatus StatusFunc

	mu          sync.Mutex
	initialized bool
	lastApplied int
	status      Status
}

// NewReconciler creates a reconciler feeding the given sink.
func NewReconciler(sink TargetSink, onStatus StatusFunc) *Reconciler {
	return &Reconciler{sink: sink, onStatus: onStatus}
}

// ApplySnapshot merges a polled snapshot. The first snapshot seeds the
// last-applied percent; later ones follow the same monotonic rule as
// events.
func (r *Reconciler) ApplySnapshot(snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		r.initialized = true
		r.lastApplied = snap.Percent
		r.setStatusLocked(snap.Status)
		r.sink.PushTarget(float64(snap.Percent))
		return
	}
	r.applyLocked(snap.Percent, snap.Status)
}

// ApplyEvent merges a pushed event. Handling is exhaustive over the event
// union: progress events carry a new percent, suspension events only a
// status change.
func (r *Reconciler) ApplyEvent(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch evt.Kind {
	case EventTransferProgressed:
		r.applyLocked(evt.Percent, evt.Status)
	case EventTransferSuspended, EventTransferResumed:
		r.setStatusLocked(evt.Status)
	default:
		// Unknown kinds from a newer server are ignored; the next
		// snapshot carries whatever state they implied.
	}
}

// LastApplied returns the reconciled percent.
func (r *Reconciler) LastApplied() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastApplied
}

// Status returns the reconciled status.
func (r *Reconciler) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// applyLocked applies the monotonic rule: only a strictly increasing
// percent advances the display; equal or lower values are stale or
// duplicate deliveries and are discarded.
func (r *Reconciler) applyLocked(percent int, status Status) {
	r.setStatusLocked(status)
	if r.initialized && percent <= r.lastApplied {
		return
	}
	r.initialized = true
	r.lastApplied = percent
	r.sink.PushTarget(float64(percent))
}

func (r *Reconciler) setStatusLocked(status Status) {
	if status == r.status || status == "" {
		return
	}
	r.status = status
	if r.onStatus != nil {
		r.onStatus(status)
	}
}
