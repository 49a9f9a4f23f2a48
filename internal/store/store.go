// Package store defines the persistence interface for the ledger service.
// Implementations include PostgreSQL via pgx (source of truth), GORM over
// PostgreSQL or SQLite, a Redis read-through cache, and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/lugondev/rwa-example-privy.io-sub002/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a create collides with an existing record.
	ErrConflict = errors.New("store: already exists")

	// ErrContention is returned when a lock or transaction could not complete
	// because of concurrent conflicting access. The whole unit may be retried.
	ErrContention = errors.New("store: contention")

	// ErrUnavailable is returned when the backing store cannot be reached.
	ErrUnavailable = errors.New("store: unavailable")
)

// Store is the persistence interface. Mutations of positions and the
// append-only trade log happen only inside WithTx.
type Store interface {
	// --- Transactional boundary ---

	// WithTx runs fn inside one atomic unit. If fn returns an error nothing
	// fn wrote is visible afterwards; otherwise all of it is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// --- Asset catalogue ---

	// CreateAsset persists a new asset.
	CreateAsset(ctx context.Context, asset *model.Asset) error

	// GetAsset retrieves an asset by its ID.
	GetAsset(ctx context.Context, id string) (*model.Asset, error)

	// ListAssets returns all assets.
	ListAssets(ctx context.Context) ([]model.Asset, error)

	// UpdateAssetPrice sets an asset's current market price.
	UpdateAssetPrice(ctx context.Context, id string, price decimal.Decimal) error

	// SumSharesHeld returns the shares of an asset held across all users.
	SumSharesHeld(ctx context.Context, assetID string) (decimal.Decimal, error)

	// --- Users ---

	// CreateUser persists a new user. Returns ErrConflict if the ID or the
	// wallet address is already registered.
	CreateUser(ctx context.Context, user *model.User) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// --- Position and history queries ---

	// ListPositions returns all open positions of a user.
	ListPositions(ctx context.Context, userID string) ([]model.Position, error)

	// ListTradeEvents returns a user's trades, oldest first.
	ListTradeEvents(ctx context.Context, userID string) ([]model.TradeEvent, error)

	// ListOrderRecords returns a user's orders, oldest first.
	ListOrderRecords(ctx context.Context, userID string) ([]model.OrderRecord, error)

	// Close releases the store's resources.
	Close() error
}

// Tx is the view of the store available inside one atomic unit.
type Tx interface {
	// LockAssetSupply serializes buy-side supply checks for an asset until
	// the unit ends.
	LockAssetSupply(ctx context.Context, assetID string) error

	// LockPosition serializes read-modify-write of one (user, asset)
	// position until the unit ends.
	LockPosition(ctx context.Context, userID, assetID string) error

	GetUser(ctx context.Context, id string) (*model.User, error)
	GetAsset(ctx context.Context, id string) (*model.Asset, error)
	SumSharesHeld(ctx context.Context, assetID string) (decimal.Decimal, error)

	// GetPosition returns ErrNotFound if the user holds no shares.
	GetPosition(ctx context.Context, userID, assetID string) (*model.Position, error)
	UpsertPosition(ctx context.Context, p *model.Position) error
	DeletePosition(ctx context.Context, userID, assetID string) error

	// AppendTradeEvent and AppendOrderRecord are append-only.
	AppendTradeEvent(ctx context.Context, e *model.TradeEvent) error
	AppendOrderRecord(ctx context.Context, o *model.OrderRecord) error
}
