package consumer

import (
	"context"
	"errors"
	"time"

	"smartdrive/user-service/internal/platform/cache"
)

const dedupKeyPrefix = "user-service:event:"

// Deduper remembers which event ids were already applied.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

// RedisDeduper keeps processed ids in Redis with a TTL.
type RedisDeduper struct {
	kv  cache.KV
	ttl time.Duration
}

// NewRedisDeduper returns a Deduper over kv. Entries expire after ttl.
func NewRedisDeduper(kv cache.KV, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{kv: kv, ttl: ttl}
}

func (d *RedisDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	_, err := d.kv.Get(ctx, dedupKeyPrefix+eventID)
	if errors.Is(err, cache.ErrMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *RedisDeduper) MarkProcessed(ctx context.Context, eventID string) error {
	_, err := d.kv.SetNX(ctx, dedupKeyPrefix+eventID, []byte("1"), d.ttl)
	return err
}
