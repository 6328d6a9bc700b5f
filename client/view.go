package client

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ViewConfig tunes a transfer view's sync and animation behavior.
type ViewConfig struct {
	// PollInterval is how often the snapshot fallback runs alongside the
	// stream.
	PollInterval time.Duration
	// Animator configures the displayed interpolation.
	Animator AnimatorConfig
	// OnStatus is invoked on reconciled status changes.
	OnStatus StatusFunc
	// Logger defaults to a nop logger.
	Logger *zap.Logger
}

// View is the progress pipeline for one rendered transfer: source →
// reconciler → animator. Construct it on mount with Open, tear it down on
// unmount with Close; no background work survives a closed view.
type View struct {
	transferID string
	source     Source
	reconciler *Reconciler
	animator   *Animator
	logger     *zap.Logger

	pollInterval time.Duration
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// Open starts the pipeline: an initial snapshot (retried with backoff
// until it succeeds), the event stream with automatic reconnect, and the
// periodic snapshot poll. Connectivity failures are retried, never treated
// as transfer-state errors.
func Open(ctx context.Context, source Source, transferID string, cfg ViewConfig) (*View, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	snap, err := snapshotWithBackoff(ctx, source, transferID, cfg.Logger)
	if err != nil {
		return nil, err
	}

	animator := NewAnimator(float64(snap.Percent), cfg.Animator)
	reconciler := NewReconciler(animator, cfg.OnStatus)
	reconciler.ApplySnapshot(*snap)

	runCtx, cancel := context.WithCancel(ctx)
	v := &View{
		transferID:   transferID,
		source:       source,
		reconciler:   reconciler,
		animator:     animator,
		logger:       cfg.Logger,
		pollInterval: cfg.PollInterval,
		cancel:       cancel,
	}

	v.wg.Add(2)
	go v.pollLoop(runCtx)
	go v.streamLoop(runCtx)

	return v, nil
}

// Close unsubscribes, stops the poll loop and halts the animator.
func (v *View) Close() {
	v.cancel()
	v.wg.Wait()
	v.animator.Stop()
}

// Percent returns the currently displayed (animated) value.
func (v *View) Percent() float64 {
	return v.animator.Current()
}

// Status returns the reconciled transfer status.
func (v *View) Status() Status {
	return v.reconciler.Status()
}

// pollLoop periodically refreshes from the snapshot surface so missed or
// dropped events are recovered even while the stream stays silent.
func (v *View) pollLoop(ctx context.Context) {
	defer v.wg.Done()

	ticker := time.NewTicker(v.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := v.source.Snapshot(ctx, v.transferID)
			if err != nil {
				if ctx.Err() == nil {
					v.logger.Warn("progress poll failed", zap.String("transfer_id", v.transferID), zap.Error(err))
				}
				continue
			}
			v.reconciler.ApplySnapshot(*snap)
		}
	}
}

// streamLoop keeps the event stream open, reconnecting with exponential
// backoff. After every reconnect it re-fetches a snapshot, since the
// stream carries no gap-detection cursor.
func (v *View) streamLoop(ctx context.Context) {
	defer v.wg.Done()

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		err := v.source.Stream(ctx, v.transferID, func(evt Event) {
			backoff = time.Second
			v.reconciler.ApplyEvent(evt)
		})
		if ctx.Err() != nil {
			return
		}
		v.logger.Warn("event stream disconnected, reconnecting",
			zap.String("transfer_id", v.transferID),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}

		if snap, err := v.source.Snapshot(ctx, v.transferID); err == nil {
			v.reconciler.ApplySnapshot(*snap)
		}
	}
}

// snapshotWithBackoff retries the initial load until it succeeds or ctx is
// cancelled.
func snapshotWithBackoff(ctx context.Context, source Source, transferID string, logger *zap.Logger) (*Snapshot, error) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		snap, err := source.Snapshot(ctx, transferID)
		if err == nil {
			return snap, nil
		}
		logger.Warn("initial snapshot failed, retrying",
			zap.String("transfer_id", transferID),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
