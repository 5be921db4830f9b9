// Package redis keeps the ids of payment events that were already applied.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "webhook:event:"

// DefaultTTL outlives the gateway's retry window for a single event.
const DefaultTTL = 72 * time.Hour

type ReplayLog struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewReplayLog(rdb *redis.Client, ttl time.Duration) (*ReplayLog, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ReplayLog{rdb: rdb, ttl: ttl}, nil
}

// Connect opens a client and checks it with PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}

func (r *ReplayLog) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, keyPrefix+eventID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *ReplayLog) Remember(ctx context.Context, eventID string) error {
	return r.rdb.SetNX(ctx, keyPrefix+eventID, "1", r.ttl).Err()
}
