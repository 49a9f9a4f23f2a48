package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lugondev/rwa-example-privy.io-sub002/internal/model"
)

// DefaultLockTimeout bounds how long a unit of work waits for a lock before
// giving up with ErrContention.
const DefaultLockTimeout = 5 * time.Second

type positionKey struct {
	userID  string
	assetID string
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Units of work take keyed locks (per asset supply and per position) and
// stage their writes; staged writes are applied under the store mutex at
// commit, so a failed unit leaves no trace.
type MemoryStore struct {
	mu        sync.RWMutex
	assets    map[string]*model.Asset
	users     map[string]*model.User
	positions map[positionKey]*model.Position
	trades    []model.TradeEvent
	orders    []model.OrderRecord

	locks       *keyedLocks
	lockTimeout time.Duration
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assets:      make(map[string]*model.Asset),
		users:       make(map[string]*model.User),
		positions:   make(map[positionKey]*model.Position),
		locks:       newKeyedLocks(),
		lockTimeout: DefaultLockTimeout,
	}
}

// SetLockTimeout changes how long units of work wait for a lock.
func (s *MemoryStore) SetLockTimeout(d time.Duration) {
	if d > 0 {
		s.lockTimeout = d
	}
}

func (s *MemoryStore) Close() error { return nil }

// --- Transactional boundary ---

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memTx{s: s, held: make(map[string]bool)}
	defer tx.releaseAll()

	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range tx.ops {
		op()
	}
	return nil
}

// --- Asset catalogue ---

func (s *MemoryStore) CreateAsset(_ context.Context, a *model.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.assets[a.ID]; ok {
		return fmt.Errorf("%w: asset %s", ErrConflict, a.ID)
	}
	for _, existing := range s.assets {
		if existing.Symbol == a.Symbol {
			return fmt.Errorf("%w: asset symbol %s", ErrConflict, a.Symbol)
		}
	}

	cp := *a
	s.assets[a.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAsset(_ context.Context, id string) (*model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getAssetLocked(id)
}

func (s *MemoryStore) getAssetLocked(id string) (*model.Asset, error) {
	a, ok := s.assets[id]
	if !ok {
		return nil, fmt.Errorf("%w: asset %s", ErrNotFound, id)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ListAssets(_ context.Context) ([]model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assets := make([]model.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		assets = append(assets, *a)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Symbol < assets[j].Symbol })
	return assets, nil
}

func (s *MemoryStore) UpdateAssetPrice(_ context.Context, id string, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assets[id]
	if !ok {
		return fmt.Errorf("%w: asset %s", ErrNotFound, id)
	}
	a.CurrentPrice = price
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SumSharesHeld(_ context.Context, assetID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sumSharesLocked(assetID), nil
}

func (s *MemoryStore) sumSharesLocked(assetID string) decimal.Decimal {
	total := decimal.Zero
	for k, p := range s.positions {
		if k.assetID == assetID {
			total = total.Add(p.Shares)
		}
	}
	return total
}

// --- Users ---

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("%w: user %s", ErrConflict, u.ID)
	}
	for _, existing := range s.users {
		if existing.WalletAddress == u.WalletAddress {
			return fmt.Errorf("%w: wallet %s", ErrConflict, u.WalletAddress)
		}
	}

	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getUserLocked(id)
}

func (s *MemoryStore) getUserLocked(id string) (*model.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	cp := *u
	return &cp, nil
}

// --- Position and history queries ---

func (s *MemoryStore) ListPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for k, p := range s.positions {
		if k.userID == userID {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].AssetID < result[j].AssetID })
	return result, nil
}

func (s *MemoryStore) ListTradeEvents(_ context.Context, userID string) ([]model.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TradeEvent
	for _, e := range s.trades {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListOrderRecords(_ context.Context, userID string) ([]model.OrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.OrderRecord
	for _, o := range s.orders {
		if o.UserID == userID {
			result = append(result, o)
		}
	}
	return result, nil
}

// --- Unit of work ---

// memTx reads committed state and stages writes until WithTx commits.
type memTx struct {
	s    *MemoryStore
	held map[string]bool
	keys []string
	ops  []func()
}

func (tx *memTx) lock(ctx context.Context, key string) error {
	if tx.held[key] {
		return nil
	}
	if err := tx.s.locks.acquire(ctx, key, tx.s.lockTimeout); err != nil {
		return err
	}
	tx.held[key] = true
	tx.keys = append(tx.keys, key)
	return nil
}

func (tx *memTx) releaseAll() {
	for i := len(tx.keys) - 1; i >= 0; i-- {
		tx.s.locks.release(tx.keys[i])
	}
}

func (tx *memTx) LockAssetSupply(ctx context.Context, assetID string) error {
	return tx.lock(ctx, "supply:"+assetID)
}

func (tx *memTx) LockPosition(ctx context.Context, userID, assetID string) error {
	return tx.lock(ctx, "position:"+userID+":"+assetID)
}

func (tx *memTx) GetUser(_ context.Context, id string) (*model.User, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return tx.s.getUserLocked(id)
}

func (tx *memTx) GetAsset(_ context.Context, id string) (*model.Asset, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return tx.s.getAssetLocked(id)
}

func (tx *memTx) SumSharesHeld(_ context.Context, assetID string) (decimal.Decimal, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return tx.s.sumSharesLocked(assetID), nil
}

func (tx *memTx) GetPosition(_ context.Context, userID, assetID string) (*model.Position, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()

	p, ok := tx.s.positions[positionKey{userID, assetID}]
	if !ok {
		return nil, fmt.Errorf("%w: position %s/%s", ErrNotFound, userID, assetID)
	}
	cp := *p
	return &cp, nil
}

func (tx *memTx) UpsertPosition(_ context.Context, p *model.Position) error {
	cp := *p
	tx.ops = append(tx.ops, func() {
		tx.s.positions[positionKey{cp.UserID, cp.AssetID}] = &cp
	})
	return nil
}

func (tx *memTx) DeletePosition(_ context.Context, userID, assetID string) error {
	tx.ops = append(tx.ops, func() {
		delete(tx.s.positions, positionKey{userID, assetID})
	})
	return nil
}

func (tx *memTx) AppendTradeEvent(_ context.Context, e *model.TradeEvent) error {
	cp := *e
	tx.ops = append(tx.ops, func() {
		tx.s.trades = append(tx.s.trades, cp)
	})
	return nil
}

func (tx *memTx) AppendOrderRecord(_ context.Context, o *model.OrderRecord) error {
	cp := *o
	tx.ops = append(tx.ops, func() {
		tx.s.orders = append(tx.s.orders, cp)
	})
	return nil
}

// keyedLocks is a set of mutexes addressed by string key. Acquisition
// honours context cancellation and a timeout so a stuck holder surfaces as
// ErrContention instead of blocking forever. A key's slot lives only while
// it is held or awaited.
type keyedLocks struct {
	mu sync.Mutex
	m  map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int // holder plus waiters
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{m: make(map[string]*lockSlot)}
}

func (k *keyedLocks) ref(key string) *lockSlot {
	k.mu.Lock()
	defer k.mu.Unlock()
	sl, ok := k.m[key]
	if !ok {
		sl = &lockSlot{ch: make(chan struct{}, 1)}
		k.m[key] = sl
	}
	sl.refs++
	return sl
}

func (k *keyedLocks) unref(key string, sl *lockSlot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(k.m, key)
	}
}

func (k *keyedLocks) acquire(ctx context.Context, key string, timeout time.Duration) error {
	sl := k.ref(key)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case sl.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		k.unref(key, sl)
		return fmt.Errorf("%w: lock %s: %v", ErrContention, key, ctx.Err())
	case <-timer.C:
		k.unref(key, sl)
		return fmt.Errorf("%w: lock %s: timed out after %s", ErrContention, key, timeout)
	}
}

func (k *keyedLocks) release(key string) {
	k.mu.Lock()
	sl := k.m[key]
	k.mu.Unlock()
	<-sl.ch
	k.unref(key, sl)
}

// size returns the number of live slots.
func (k *keyedLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.m)
}
