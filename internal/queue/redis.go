package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a Redis list used as a FIFO
type RedisQueue struct {
	client  redis.UniversalClient
	key     string
	timeout time.Duration
	nextID  atomic.Int64
}

// NewRedisQueue returns a queue over the list at key. When nothing is
// queued, Read blocks for up to timeout (zero does not block).
func NewRedisQueue(client redis.UniversalClient, key string, timeout time.Duration) *RedisQueue {
	return &RedisQueue{client: client, key: key, timeout: timeout}
}

func (q *RedisQueue) Enqueue(ctx context.Context, payload string) error {
	if err := q.client.RPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("redis rpush %s: %w", q.key, err)
	}
	return nil
}

func (q *RedisQueue) EnqueueBatch(ctx context.Context, payloads []string) error {
	if len(payloads) == 0 {
		return nil
	}
	values := make([]any, len(payloads))
	for i, p := range payloads {
		values[i] = p
	}
	if err := q.client.RPush(ctx, q.key, values...).Err(); err != nil {
		return fmt.Errorf("redis rpush %s: %w", q.key, err)
	}
	return nil
}

func (q *RedisQueue) Read(ctx context.Context, max int) ([]*MessageHandle, error) {
	if max <= 0 {
		return nil, nil
	}
	payloads, err := q.client.LPopCount(ctx, q.key, max).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis lpop %s: %w", q.key, err)
	}

	if len(payloads) == 0 && q.timeout > 0 {
		res, err := q.client.BLPop(ctx, q.timeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("redis blpop %s: %w", q.key, err)
		}
		// BLPOP answers [key, value]
		payloads = res[1:]
	}

	msgs := make([]*MessageHandle, 0, len(payloads))
	for _, p := range payloads {
		id := q.nextID.Add(1)
		msgs = append(msgs, &MessageHandle{Handle: strconv.FormatInt(id, 10), Payload: p})
	}
	return msgs, nil
}

// JobDone only guards against double acknowledgement; popping already
// removed the message.
func (q *RedisQueue) JobDone(_ context.Context, h *MessageHandle) error {
	return h.markDone()
}

func (q *RedisQueue) Clear(ctx context.Context) (int, error) {
	var llen *redis.IntCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		llen = pipe.LLen(ctx, q.key)
		pipe.Del(ctx, q.key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis clear %s: %w", q.key, err)
	}
	return int(llen.Val()), nil
}

// Close leaves the shared client open
func (q *RedisQueue) Close() error { return nil }
