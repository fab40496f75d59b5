package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/CreatorGate/app/models"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/entitlements"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/env"
)

const (
	snapshotKeyPrefix = "entitlements:snapshot:"
	DefaultCacheTTL   = 5 * time.Minute
)

type cachedRecord struct {
	UserVip       bool                  `json:"user_vip"`
	Subscriptions []models.Subscription `json:"subscriptions"`
}

// CachedStore is a Redis read-through cache in front of another store. Cache
// failures fall back to the backing store; they are never treated as denial.
type CachedStore struct {
	next entitlements.SubscriptionStore
	rdb  *redis.Client
	ttl  time.Duration
}

func NewCachedStore(next entitlements.SubscriptionStore, rdb *redis.Client, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedStore{next: next, rdb: rdb, ttl: ttl}
}

// CacheTTLFromEnv reads ENTITLEMENT_CACHE_TTL (e.g. "2m").
func CacheTTLFromEnv() time.Duration {
	return env.GetDuration("ENTITLEMENT_CACHE_TTL", DefaultCacheTTL)
}

func (s *CachedStore) FetchForUser(ctx context.Context, userID uint) ([]models.Subscription, error) {
	rec, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return rec.Subscriptions, nil
}

func (s *CachedStore) IsVipUser(ctx context.Context, userID uint) (bool, error) {
	rec, err := s.load(ctx, userID)
	if err != nil {
		return false, err
	}
	return rec.UserVip, nil
}

// FetchSnapshot returns both halves of the cached record from a single load,
// so a cache miss costs one backing read.
func (s *CachedStore) FetchSnapshot(ctx context.Context, userID uint) ([]models.Subscription, bool, error) {
	rec, err := s.load(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return rec.Subscriptions, rec.UserVip, nil
}

// Invalidate drops the cached snapshot so the next read hits the backing store.
func (s *CachedStore) Invalidate(ctx context.Context, userID uint) error {
	if s.rdb == nil || userID == 0 {
		return nil
	}
	return s.rdb.Del(ctx, snapshotKey(userID)).Err()
}

func (s *CachedStore) load(ctx context.Context, userID uint) (*cachedRecord, error) {
	if userID == 0 {
		return nil, entitlements.ErrNotAuthenticated
	}

	if rec, ok := s.get(ctx, userID); ok {
		return rec, nil
	}

	subs, userVip, err := entitlements.FetchSnapshot(ctx, s.next, userID)
	if err != nil {
		return nil, err
	}
	rec := &cachedRecord{UserVip: userVip, Subscriptions: subs}

	s.set(ctx, userID, rec)
	return rec, nil
}

func (s *CachedStore) get(ctx context.Context, userID uint) (*cachedRecord, bool) {
	if s.rdb == nil {
		return nil, false
	}
	raw, err := s.rdb.Get(ctx, snapshotKey(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			fiberlog.Warnf("[SubscriptionCache] Read failed for user %d: %v", userID, err)
		}
		return nil, false
	}
	var rec cachedRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		fiberlog.Warnf("[SubscriptionCache] Dropping undecodable entry for user %d: %v", userID, err)
		_ = s.rdb.Del(ctx, snapshotKey(userID)).Err()
		return nil, false
	}
	return &rec, true
}

func (s *CachedStore) set(ctx context.Context, userID uint, rec *cachedRecord) {
	if s.rdb == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		fiberlog.Warnf("[SubscriptionCache] Encode failed for user %d: %v", userID, err)
		return
	}
	if err := s.rdb.Set(ctx, snapshotKey(userID), payload, s.ttl).Err(); err != nil {
		fiberlog.Warnf("[SubscriptionCache] Write failed for user %d: %v", userID, err)
	}
}

func snapshotKey(userID uint) string {
	return fmt.Sprintf("%s%d", snapshotKeyPrefix, userID)
}
