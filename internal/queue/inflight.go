package queue

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/wegman-software/tilequeue-go/internal/coord"
)

// InFlightManager tracks coordinates with an outstanding job
type InFlightManager interface {
	// Filter returns the coordinates not currently in flight
	Filter(ctx context.Context, coords []coord.Coord) ([]coord.Coord, error)
	MarkInFlight(ctx context.Context, coords []coord.Coord) error
	IsInFlight(ctx context.Context, c coord.Coord) (bool, error)
	Unmark(ctx context.Context, c coord.Coord) error
}

// NoopInFlight never reports anything in flight
type NoopInFlight struct{}

func (NoopInFlight) Filter(_ context.Context, coords []coord.Coord) ([]coord.Coord, error) {
	return coords, nil
}
func (NoopInFlight) MarkInFlight(context.Context, []coord.Coord) error     { return nil }
func (NoopInFlight) IsInFlight(context.Context, coord.Coord) (bool, error) { return false, nil }
func (NoopInFlight) Unmark(context.Context, coord.Coord) error             { return nil }

// DefaultInFlightChunkSize bounds the members sent per SADD
const DefaultInFlightChunkSize = 100

// RedisInFlight keeps the in-flight set as a Redis set of packed coordinates.
// Entries never expire; a worker that dies mid-job leaves its coordinate
// marked until Unmark or Clear.
type RedisInFlight struct {
	client    redis.UniversalClient
	key       string
	chunkSize int
}

// NewRedisInFlight returns a manager over the set at key
func NewRedisInFlight(client redis.UniversalClient, key string, chunkSize int) *RedisInFlight {
	if chunkSize <= 0 {
		chunkSize = DefaultInFlightChunkSize
	}
	return &RedisInFlight{client: client, key: key, chunkSize: chunkSize}
}

func member(c coord.Coord) string {
	return strconv.FormatInt(coord.MarshalInt(c), 10)
}

func (m *RedisInFlight) Filter(ctx context.Context, coords []coord.Coord) ([]coord.Coord, error) {
	if len(coords) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.BoolCmd, len(coords))
	_, err := m.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, c := range coords {
			cmds[i] = pipe.SIsMember(ctx, m.key, member(c))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis sismember %s: %w", m.key, err)
	}
	out := make([]coord.Coord, 0, len(coords))
	for i, c := range coords {
		if !cmds[i].Val() {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *RedisInFlight) MarkInFlight(ctx context.Context, coords []coord.Coord) error {
	for _, part := range chunk(coords, m.chunkSize) {
		members := make([]any, len(part))
		for i, c := range part {
			members[i] = member(c)
		}
		if err := m.client.SAdd(ctx, m.key, members...).Err(); err != nil {
			return fmt.Errorf("redis sadd %s: %w", m.key, err)
		}
	}
	return nil
}

func (m *RedisInFlight) IsInFlight(ctx context.Context, c coord.Coord) (bool, error) {
	ok, err := m.client.SIsMember(ctx, m.key, member(c)).Result()
	if err != nil {
		return false, fmt.Errorf("redis sismember %s: %w", m.key, err)
	}
	return ok, nil
}

func (m *RedisInFlight) Unmark(ctx context.Context, c coord.Coord) error {
	if err := m.client.SRem(ctx, m.key, member(c)).Err(); err != nil {
		return fmt.Errorf("redis srem %s: %w", m.key, err)
	}
	return nil
}

// Clear empties the in-flight set, returning how many entries it held
func (m *RedisInFlight) Clear(ctx context.Context) (int, error) {
	n, err := m.client.SCard(ctx, m.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis scard %s: %w", m.key, err)
	}
	if err := m.client.Del(ctx, m.key).Err(); err != nil {
		return 0, fmt.Errorf("redis del %s: %w", m.key, err)
	}
	return int(n), nil
}
