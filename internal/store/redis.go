package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/lugondev/rwa-example-privy.io-sub002/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache for
// assets and position lists. Writes go to the primary and invalidate the
// cache; reads check Redis first then fall back to the primary.
//
// Units of work always read the primary. Position caches for every user a
// unit touched are dropped only after it commits.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) Close() error {
	err := s.primary.Close()
	if cerr := s.rdb.Close(); err == nil {
		err = cerr
	}
	return err
}

// --- Transactional boundary ---

func (s *CachedStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	touched := make(map[string]struct{})
	err := s.primary.WithTx(ctx, func(tx Tx) error {
		return fn(&cachingTx{Tx: tx, touched: touched})
	})
	if err != nil {
		return err
	}

	if len(touched) > 0 {
		keys := make([]string, 0, len(touched))
		for uid := range touched {
			keys = append(keys, positionsKey(uid))
		}
		s.rdb.Del(context.WithoutCancel(ctx), keys...)
	}
	return nil
}

// cachingTx records which users' positions a unit changed.
type cachingTx struct {
	Tx
	touched map[string]struct{}
}

func (t *cachingTx) UpsertPosition(ctx context.Context, p *model.Position) error {
	t.touched[p.UserID] = struct{}{}
	return t.Tx.UpsertPosition(ctx, p)
}

func (t *cachingTx) DeletePosition(ctx context.Context, userID, assetID string) error {
	t.touched[userID] = struct{}{}
	return t.Tx.DeletePosition(ctx, userID, assetID)
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAsset(ctx context.Context, a *model.Asset) error {
	if err := s.primary.CreateAsset(ctx, a); err != nil {
		return err
	}
	s.cacheAsset(ctx, a)
	return nil
}

func (s *CachedStore) UpdateAssetPrice(ctx context.Context, id string, price decimal.Decimal) error {
	if err := s.primary.UpdateAssetPrice(ctx, id, price); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, assetKey(id))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	data, err := s.rdb.Get(ctx, assetKey(id)).Bytes()
	if err == nil {
		var a model.Asset
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheAsset(ctx, a)
	return a, nil
}

func (s *CachedStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(userID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.ListPositions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(userID), data, s.ttl)
	}
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListAssets(ctx context.Context) ([]model.Asset, error) {
	return s.primary.ListAssets(ctx)
}

func (s *CachedStore) SumSharesHeld(ctx context.Context, assetID string) (decimal.Decimal, error) {
	return s.primary.SumSharesHeld(ctx, assetID)
}

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	return s.primary.CreateUser(ctx, u)
}

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.primary.GetUser(ctx, id)
}

func (s *CachedStore) ListTradeEvents(ctx context.Context, userID string) ([]model.TradeEvent, error) {
	return s.primary.ListTradeEvents(ctx, userID)
}

func (s *CachedStore) ListOrderRecords(ctx context.Context, userID string) ([]model.OrderRecord, error) {
	return s.primary.ListOrderRecords(ctx, userID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheAsset(ctx context.Context, a *model.Asset) {
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, assetKey(a.ID), data, s.ttl)
	}
}

func assetKey(id string) string      { return fmt.Sprintf("rwa:asset:%s", id) }
func positionsKey(uid string) string { return fmt.Sprintf("rwa:positions:%s", uid) }
