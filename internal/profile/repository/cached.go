package repository

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"smartdrive/user-service/internal/platform/cache"
	"smartdrive/user-service/internal/profile/domain"
)

const cacheKeyPrefix = "user-service:profile:"

// CacheKey is the read-through cache key for authUserID.
func CacheKey(authUserID string) string {
	return cacheKeyPrefix + authUserID
}

// GenerationKey holds the write generation for authUserID. Invalidation bumps it, and a
// cached entry is served only while its recorded generation is current.
func GenerationKey(authUserID string) string {
	return cacheKeyPrefix + authUserID + ":gen"
}

// CachedStore is a read-through cache over a Store for GetByAuthUserID. Every write through
// it invalidates the affected keys; writes made in WithinTx are invalidated after commit.
// Cache failures are logged and fall through to the store.
//
// A reader records the generation before loading from the store, so a row loaded before a
// concurrent commit is stored under the old generation and never served after it.
type CachedStore struct {
	Store
	kv     cache.KV
	ttl    time.Duration
	logger *slog.Logger
}

type cachedProfile struct {
	Gen     int64           `json:"gen"`
	Profile *domain.Profile `json:"profile"`
}

// NewCachedStore wraps store with kv. ttl <= 0 disables expiry.
func NewCachedStore(store Store, kv cache.KV, ttl time.Duration, logger *slog.Logger) *CachedStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{Store: store, kv: kv, ttl: ttl, logger: logger}
}

func (c *CachedStore) GetByAuthUserID(ctx context.Context, authUserID string) (*domain.Profile, error) {
	key := CacheKey(authUserID)
	gen, genOK := c.generation(ctx, authUserID)
	if genOK {
		if raw, err := c.kv.Get(ctx, key); err == nil {
			var entry cachedProfile
			if jerr := json.Unmarshal(raw, &entry); jerr == nil && entry.Profile != nil && entry.Gen == gen {
				return entry.Profile, nil
			}
		} else if !errors.Is(err, cache.ErrMiss) {
			c.logger.WarnContext(ctx, "profile cache read failed", "auth_user_id", authUserID, "error", err)
		}
	}

	p, err := c.Store.GetByAuthUserID(ctx, authUserID)
	if err != nil || p == nil || !genOK {
		return p, err
	}
	if raw, jerr := json.Marshal(cachedProfile{Gen: gen, Profile: p}); jerr == nil {
		if serr := c.kv.Set(ctx, key, raw, c.ttl); serr != nil {
			c.logger.WarnContext(ctx, "profile cache write failed", "auth_user_id", authUserID, "error", serr)
		}
	}
	return p, nil
}

// generation returns the current write generation. ok is false when it cannot be read, in
// which case the cache is bypassed.
func (c *CachedStore) generation(ctx context.Context, authUserID string) (int64, bool) {
	raw, err := c.kv.Get(ctx, GenerationKey(authUserID))
	if errors.Is(err, cache.ErrMiss) {
		return 0, true
	}
	if err != nil {
		c.logger.WarnContext(ctx, "profile cache generation read failed", "auth_user_id", authUserID, "error", err)
		return 0, false
	}
	gen, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return gen, true
}

func (c *CachedStore) Create(ctx context.Context, p *domain.Profile) error {
	err := c.Store.Create(ctx, p)
	c.invalidate(ctx, p.AuthUserID)
	return err
}

func (c *CachedStore) Update(ctx context.Context, p *domain.Profile) error {
	err := c.Store.Update(ctx, p)
	c.invalidate(ctx, p.AuthUserID)
	return err
}

func (c *CachedStore) Delete(ctx context.Context, authUserID string) error {
	err := c.Store.Delete(ctx, authUserID)
	c.invalidate(ctx, authUserID)
	return err
}

func (c *CachedStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	rec := &touchRecorder{}
	err := c.Store.WithinTx(ctx, func(tx Tx) error {
		return fn(&recordingTx{Tx: tx, touched: rec})
	})
	c.invalidate(ctx, rec.keys()...)
	return err
}

func (c *CachedStore) invalidate(ctx context.Context, authUserIDs ...string) {
	keys := make([]string, 0, len(authUserIDs))
	for _, id := range authUserIDs {
		if id == "" {
			continue
		}
		if _, err := c.kv.Incr(ctx, GenerationKey(id)); err != nil {
			c.logger.WarnContext(ctx, "profile cache generation bump failed", "auth_user_id", id, "error", err)
		}
		keys = append(keys, CacheKey(id))
	}
	if len(keys) == 0 {
		return
	}
	if err := c.kv.Del(ctx, keys...); err != nil {
		c.logger.WarnContext(ctx, "profile cache invalidation failed", "keys", len(keys), "error", err)
	}
}

type touchRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *touchRecorder) add(id string) {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
}

func (r *touchRecorder) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

// recordingTx remembers which profiles a transaction wrote.
type recordingTx struct {
	Tx
	touched *touchRecorder
}

func (t *recordingTx) Create(ctx context.Context, p *domain.Profile) error {
	t.touched.add(p.AuthUserID)
	return t.Tx.Create(ctx, p)
}

func (t *recordingTx) Update(ctx context.Context, p *domain.Profile) error {
	t.touched.add(p.AuthUserID)
	return t.Tx.Update(ctx, p)
}

func (t *recordingTx) Delete(ctx context.Context, authUserID string) error {
	t.touched.add(authUserID)
	return t.Tx.Delete(ctx, authUserID)
}
