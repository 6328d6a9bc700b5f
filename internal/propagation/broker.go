// Package propagation delivers transfer state-change events to every
// subscribed client and serves the pull-based snapshot fallback for late
// joiners and reconnects. Delivery is at-least-once and per-transfer
// ordered; a slow subscriber can never stall a state transition.
package propagation

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tranche/internal/cache"
	"tranche/internal/models"
)

// eventsChannel is the Redis pub/sub channel carrying all transfer events.
// Per-transfer routing happens in the relay, keyed by the payload's
// transfer id.
const eventsChannel = "tranche:events"

const subscriberBuffer = 16

// SnapshotSource is the authoritative fallback when the snapshot cache
// misses.
type SnapshotSource interface {
	GetTransfer(ctx context.Context, id uuid.UUID) (*models.Transfer, error)
}

// Config holds broker tuning.
type Config struct {
	// PublishRetries bounds redelivery attempts per event.
	PublishRetries int
	// RetryBackoff is the base delay between attempts, doubled each time.
	RetryBackoff time.Duration
	// SnapshotTTL is the cache lifetime of progress snapshots.
	SnapshotTTL time.Duration
	// QueueSize is the publish queue depth before events are dropped
	// (clients recover via snapshot).
	QueueSize int
}

func (c *Config) applyDefaults() {
	if c.PublishRetries <= 0 {
		c.PublishRetries = 5
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	if c.SnapshotTTL <= 0 {
		c.SnapshotTTL = 24 * time.Hour
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
}

// Broker is the real-time propagation channel. With a Redis client it
// publishes through pub/sub so every server instance relays events to its
// local subscribers; without one it dispatches in-process only.
type Broker struct {
	cache  *cache.Client
	source SnapshotSource
	logger *zap.Logger
	cfg    Config

	queue chan models.Event

	mu     sync.RWMutex
	subs   map[uuid.UUID]map[int]chan models.Event
	nextID int
}

// New creates a broker. cacheClient may be nil for single-instance
// deployments and tests.
func New(cacheClient *cache.Client, source SnapshotSource, logger *zap.Logger, cfg Config) *Broker {
	cfg.applyDefaults()
	return &Broker{
		cache:  cacheClient,
		source: source,
		logger: logger,
		cfg:    cfg,
		queue:  make(chan models.Event, cfg.QueueSize),
		subs:   make(map[uuid.UUID]map[int]chan models.Event),
	}
}

// Start launches the publish worker and, when Redis is configured, the
// relay that feeds remote events into local subscribers. Both stop when
// ctx is cancelled.
func (b *Broker) Start(ctx context.Context) {
	go b.publishLoop(ctx)
	if b.cache != nil {
		go b.relayLoop(ctx)
	}
}

// Publish enqueues an event for delivery. It never blocks the caller: when
// the queue is full the event is dropped and clients resynchronize via
// Snapshot.
func (b *Broker) Publish(_ context.Context, evt models.Event) {
	select {
	case b.queue <- evt:
	default:
		b.logger.Warn("publish queue full, dropping event",
			zap.String("transfer_id", evt.TransferID.String()),
			zap.String("kind", string(evt.Kind)),
			zap.Int("seq", evt.Seq),
		)
	}
}

// Subscribe registers for a transfer's events. The returned cancel
// function removes the subscription and closes the channel; callers must
// invoke it when the view goes away.
func (b *Broker) Subscribe(transferID uuid.UUID) (<-chan models.Event, func()) {
	ch := make(chan models.Event, subscriberBuffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[transferID] == nil {
		b.subs[transferID] = make(map[int]chan models.Event)
	}
	b.subs[transferID][id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[transferID], id)
			if len(b.subs[transferID]) == 0 {
				delete(b.subs, transferID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Snapshot returns the latest progress state, preferring the cache and
// falling back to the store.
func (b *Broker) Snapshot(ctx context.Context, transferID uuid.UUID) (*models.ProgressSnapshot, error) {
	if b.cache != nil {
		payload, err := b.cache.GetSnapshot(ctx, transferID.String())
		if err != nil {
			b.logger.Warn("snapshot cache read failed", zap.Error(err))
		} else if payload != "" {
			var snap models.ProgressSnapshot
			if err := json.Unmarshal([]byte(payload), &snap); err == nil {
				return &snap, nil
			}
			b.logger.Warn("snapshot cache payload invalid", zap.String("transfer_id", transferID.String()))
		}
	}

	t, err := b.source.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	snap := t.Snapshot()
	return &snap, nil
}

// publishLoop drains the queue one event at a time, preserving per-transfer
// publish order end to end.
func (b *Broker) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-b.queue:
			b.deliver(ctx, evt)
		}
	}
}

func (b *Broker) deliver(ctx context.Context, evt models.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		b.logger.Error("marshal event", zap.Error(err))
		return
	}

	if b.cache == nil {
		b.dispatch(evt)
		return
	}

	b.refreshSnapshot(ctx, evt)

	backoff := b.cfg.RetryBackoff
	for attempt := 1; attempt <= b.cfg.PublishRetries; attempt++ {
		err = b.cache.PublishEvent(ctx, eventsChannel, string(payload))
		if err == nil {
			return
		}
		b.logger.Warn("event publish failed",
			zap.Int("attempt", attempt),
			zap.String("transfer_id", evt.TransferID.String()),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	// Delivery failure stays inside the channel; subscribers recover via
	// Snapshot.
	b.logger.Error("event delivery abandoned",
		zap.String("transfer_id", evt.TransferID.String()),
		zap.Int("seq", evt.Seq),
		zap.Error(err),
	)
}

func (b *Broker) refreshSnapshot(ctx context.Context, evt models.Event) {
	snap := models.ProgressSnapshot{
		TransferID: evt.TransferID,
		Percent:    evt.Percent,
		Status:     evt.Status,
		StepIndex:  evt.Seq,
		TotalSteps: evt.TotalSteps,
		UpdatedAt:  evt.OccurredAt,
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		b.logger.Error("marshal snapshot", zap.Error(err))
		return
	}
	if _, err := b.cache.SetSnapshot(ctx, evt.TransferID.String(), evt.Seq, string(payload), b.cfg.SnapshotTTL); err != nil {
		b.logger.Warn("snapshot cache write failed", zap.Error(err))
	}
}

// relayLoop subscribes to the Redis events channel and feeds messages into
// local subscribers, reconnecting with exponential backoff.
func (b *Broker) relayLoop(ctx context.Context) {
	backoff := b.cfg.RetryBackoff
	const maxBackoff = 30 * time.Second

	for {
		err := b.cache.Subscribe(ctx, eventsChannel, func(payload string) {
			var evt models.Event
			if err := json.Unmarshal([]byte(payload), &evt); err != nil {
				b.logger.Warn("drop malformed event payload", zap.Error(err))
				return
			}
			b.dispatch(evt)
			backoff = b.cfg.RetryBackoff
		})
		if ctx.Err() != nil {
			return
		}
		b.logger.Warn("event relay disconnected, reconnecting",
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
	}
}

// dispatch fans an event out to the transfer's local subscribers without
// blocking: a full subscriber buffer drops the event, and that client
// resynchronizes from Snapshot on its next poll.
func (b *Broker) dispatch(evt models.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[evt.TransferID] {
		select {
		case ch <- evt:
		default:
			b.logger.Warn("subscriber buffer full, dropping event",
				zap.String("transfer_id", evt.TransferID.String()),
				zap.Int("seq", evt.Seq),
			)
		}
	}
}
