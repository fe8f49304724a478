package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Linhhh07/Iot/internal/device"
)

// StateCache mirrors the newest logged state of each device in redis so the
// reconciler can skip the history lookup on the hot path.
type StateCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStateCache(rdb *redis.Client) *StateCache {
	return &StateCache{rdb: rdb, ttl: 24 * time.Hour}
}

func stateKey(name string) string { return "iot:device:last_state:" + name }

func (c *StateCache) Get(ctx context.Context, name string) (device.State, bool, error) {
	v, err := c.rdb.Get(ctx, stateKey(name)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	st, err := device.ParseState(v)
	if err != nil {
		// Unreadable entry; treat as a miss so the store answers.
		return "", false, nil
	}
	return st, true, nil
}

func (c *StateCache) Set(ctx context.Context, name string, state device.State) error {
	return c.rdb.Set(ctx, stateKey(name), string(state), c.ttl).Err()
}

func (c *StateCache) Delete(ctx context.Context, name string) error {
	return c.rdb.Del(ctx, stateKey(name)).Err()
}
