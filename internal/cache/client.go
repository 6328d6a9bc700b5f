package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/rueidis"
)

// Client wraps Redis operations using rueidis.
type Client struct {
	redis rueidis.Client
}

// NewClient creates a new Redis client.
func NewClient(ctx context.Context, url string) (*Client, error) {
	// Parse Redis URL (redis://localhost:6379)
	opts, err := rueidis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client, err := rueidis.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("create redis client: %w", err)
	}

	// Verify connection
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{redis: client}, nil
}

// Close closes the Redis client.
func (c *Client) Close() {
	c.redis.Close()
}

// Ping checks if Redis is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.redis.Do(ctx, c.redis.B().Ping().Build()).Error()
}

// --- Event fan-out ---

// PublishEvent publishes a payload on a pub/sub channel.
func (c *Client) PublishEvent(ctx context.Context, channel, payload string) error {
	return c.redis.Do(ctx, c.redis.B().Publish().Channel(channel).Message(payload).Build()).Error()
}

// Subscribe blocks, invoking fn for every message on the channel, until ctx
// is cancelled or the connection drops. Callers own reconnection.
func (c *Client) Subscribe(ctx context.Context, channel string, fn func(payload string)) error {
	return c.redis.Receive(ctx, c.redis.B().Subscribe().Channel(channel).Build(), func(msg rueidis.PubSubMessage) {
		fn(msg.Message)
	})
}

// --- Progress snapshot cache ---

// SetSnapshot stores the latest progress snapshot for a transfer, guarded
// by step sequence so a replayed or late write can never regress the cache.
// Returns false when the cached sequence is already ahead.
func (c *Client) SetSnapshot(ctx context.Context, transferID string, seq int, payload string, ttl time.Duration) (bool, error) {
	dataKey := fmt.Sprintf("transfer_progress:%s", transferID)
	seqKey := fmt.Sprintf("transfer_progress_seq:%s", transferID)

	// Lua keeps the seq check and both writes atomic
	script := `
		local cur = redis.call('GET', KEYS[2])
		if cur and tonumber(cur) > tonumber(ARGV[1]) then
			return 0
		end
		redis.call('SET', KEYS[2], ARGV[1], 'EX', ARGV[3])
		redis.call('SET', KEYS[1], ARGV[2], 'EX', ARGV[3])
		return 1
	`

	result, err := c.redis.Do(ctx,
		c.redis.B().Eval().Script(script).Numkeys(2).Key(dataKey, seqKey).Arg(
			strconv.Itoa(seq),
			payload,
			strconv.FormatInt(int64(ttl.Seconds()), 10),
		).Build(),
	).ToInt64()
	if err != nil {
		return false, fmt.Errorf("set snapshot: %w", err)
	}

	return result == 1, nil
}

// GetSnapshot retrieves the cached snapshot payload, or "" when absent.
func (c *Client) GetSnapshot(ctx context.Context, transferID string) (string, error) {
	key := fmt.Sprintf("transfer_progress:%s", transferID)
	payload, err := c.redis.Do(ctx, c.redis.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return "", nil
		}
		return "", fmt.Errorf("get snapshot: %w", err)
	}
	return payload, nil
}
