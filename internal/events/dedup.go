package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyDedup = "dedup:%s:%s"

// Dedup remembers event ids per consumer group so redelivered messages are
// applied once.
type Dedup struct {
	rdb   setNXer
	group string
	ttl   time.Duration
}

type setNXer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

func NewDedup(rdb setNXer, group string, ttl time.Duration) *Dedup {
	return &Dedup{rdb: rdb, group: group, ttl: ttl}
}

func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func (d *Dedup) Key(eventID string) string {
	return fmt.Sprintf(keyDedup, d.group, eventID)
}

// Seen marks eventID and reports whether it had been marked before.
func (d *Dedup) Seen(ctx context.Context, eventID string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, d.Key(eventID), "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup %s: %w", eventID, err)
	}
	return !ok, nil
}
