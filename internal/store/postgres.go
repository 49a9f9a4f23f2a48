package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lugondev/rwa-example-privy.io-sub002/internal/model"
)

// schema is applied by Migrate. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS assets (
		id                    TEXT PRIMARY KEY,
		symbol                TEXT NOT NULL UNIQUE,
		name                  TEXT NOT NULL,
		current_price         NUMERIC NOT NULL,
		total_issuable_shares NUMERIC,
		created_at            TIMESTAMPTZ NOT NULL,
		updated_at            TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id             TEXT PRIMARY KEY,
		wallet_address TEXT NOT NULL UNIQUE,
		created_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS positions (
		user_id      TEXT NOT NULL REFERENCES users(id),
		asset_id     TEXT NOT NULL REFERENCES assets(id),
		shares       NUMERIC NOT NULL CHECK (shares > 0),
		average_cost NUMERIC NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, asset_id)
	)`,
	`CREATE INDEX IF NOT EXISTS positions_asset_id_idx ON positions (asset_id)`,
	`CREATE TABLE IF NOT EXISTS trade_events (
		id                TEXT PRIMARY KEY,
		user_id           TEXT NOT NULL REFERENCES users(id),
		asset_id          TEXT NOT NULL REFERENCES assets(id),
		side              TEXT NOT NULL,
		quantity          NUMERIC NOT NULL,
		execution_price   NUMERIC NOT NULL,
		gross_value       NUMERIC NOT NULL,
		fee               NUMERIC NOT NULL,
		net_consideration NUMERIC NOT NULL,
		realized_pnl      NUMERIC NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS trade_events_user_idx ON trade_events (user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS order_records (
		id          TEXT PRIMARY KEY,
		trade_id    TEXT NOT NULL UNIQUE REFERENCES trade_events(id),
		user_id     TEXT NOT NULL REFERENCES users(id),
		asset_id    TEXT NOT NULL REFERENCES assets(id),
		side        TEXT NOT NULL,
		order_type  TEXT NOT NULL,
		quantity    NUMERIC NOT NULL,
		limit_price NUMERIC,
		status      TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS order_records_user_idx ON order_records (user_id, created_at)`,
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
//
// Units of work run at READ COMMITTED with explicit locks: the asset row is
// locked FOR UPDATE to serialize supply checks, and a transaction-scoped
// advisory lock serializes each (user, asset) position.
type PostgresStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, lockTimeout: DefaultLockTimeout}
}

// SetLockTimeout changes how long a unit of work waits for a row or
// advisory lock before failing with ErrContention.
func (s *PostgresStore) SetLockTimeout(d time.Duration) {
	if d > 0 {
		s.lockTimeout = d
	}
}

// Migrate creates the ledger tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return classify("migrate", err)
		}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// --- Transactional boundary ---

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify("begin", err)
	}
	// Rollback is a no-op once committed.
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return classify("set lock_timeout", err)
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(context.WithoutCancel(ctx)); err != nil {
		return classify("commit", err)
	}
	return nil
}

// --- Asset catalogue ---

func (s *PostgresStore) CreateAsset(ctx context.Context, a *model.Asset) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO assets (id, symbol, name, current_price, total_issuable_shares, created_at, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7)`,
		a.ID, a.Symbol, a.Name, a.CurrentPrice.String(), decPtrArg(a.TotalIssuableShares),
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return classify("create asset "+a.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	return getAsset(ctx, s.pool, id)
}

func (s *PostgresStore) ListAssets(ctx context.Context) ([]model.Asset, error) {
	rows, err := s.pool.Query(ctx, selectAsset+` ORDER BY symbol`)
	if err != nil {
		return nil, classify("list assets", err)
	}
	defer rows.Close()

	var assets []model.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, classify("list assets", err)
		}
		assets = append(assets, *a)
	}
	return assets, classify("list assets", rows.Err())
}

func (s *PostgresStore) UpdateAssetPrice(ctx context.Context, id string, price decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE assets SET current_price = $2::NUMERIC, updated_at = $3 WHERE id = $1`,
		id, price.String(), time.Now().UTC(),
	)
	if err != nil {
		return classify("update asset price "+id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: asset %s", ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) SumSharesHeld(ctx context.Context, assetID string) (decimal.Decimal, error) {
	return sumSharesHeld(ctx, s.pool, assetID)
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, wallet_address, created_at) VALUES ($1, $2, $3)`,
		u.ID, u.WalletAddress, u.CreatedAt,
	)
	if err != nil {
		return classify("create user "+u.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return getUser(ctx, s.pool, id)
}

// --- Position and history queries ---

func (s *PostgresStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx, selectPosition+` WHERE user_id = $1 ORDER BY asset_id`, userID)
	if err != nil {
		return nil, classify("list positions", err)
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, classify("list positions", err)
		}
		positions = append(positions, *p)
	}
	return positions, classify("list positions", rows.Err())
}

func (s *PostgresStore) ListTradeEvents(ctx context.Context, userID string) ([]model.TradeEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, asset_id, side,
		        quantity::TEXT, execution_price::TEXT, gross_value::TEXT,
		        fee::TEXT, net_consideration::TEXT, realized_pnl::TEXT, created_at
		 FROM trade_events WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, classify("list trades", err)
	}
	defer rows.Close()

	var events []model.TradeEvent
	for rows.Next() {
		var e model.TradeEvent
		var qty, price, gross, fee, net, pnl string
		if err := rows.Scan(&e.ID, &e.UserID, &e.AssetID, &e.Side,
			&qty, &price, &gross, &fee, &net, &pnl, &e.CreatedAt); err != nil {
			return nil, classify("list trades", err)
		}
		e.Quantity = dec(qty)
		e.ExecutionPrice = dec(price)
		e.GrossValue = dec(gross)
		e.Fee = dec(fee)
		e.NetConsideration = dec(net)
		e.RealizedPnL = dec(pnl)
		events = append(events, e)
	}
	return events, classify("list trades", rows.Err())
}

func (s *PostgresStore) ListOrderRecords(ctx context.Context, userID string) ([]model.OrderRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, trade_id, user_id, asset_id, side, order_type,
		        quantity::TEXT, limit_price::TEXT, status, created_at
		 FROM order_records WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, classify("list orders", err)
	}
	defer rows.Close()

	var orders []model.OrderRecord
	for rows.Next() {
		var o model.OrderRecord
		var qty string
		var limit *string
		if err := rows.Scan(&o.ID, &o.TradeID, &o.UserID, &o.AssetID, &o.Side, &o.OrderType,
			&qty, &limit, &o.Status, &o.CreatedAt); err != nil {
			return nil, classify("list orders", err)
		}
		o.Quantity = dec(qty)
		o.LimitPrice = decPtr(limit)
		orders = append(orders, o)
	}
	return orders, classify("list orders", rows.Err())
}

// --- Unit of work ---

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockAssetSupply(ctx context.Context, assetID string) error {
	// A missing asset locks nothing; GetAsset reports it.
	if _, err := t.tx.Exec(ctx, `SELECT 1 FROM assets WHERE id = $1 FOR UPDATE`, assetID); err != nil {
		return classify("lock supply "+assetID, err)
	}
	return nil
}

func (t *pgTx) LockPosition(ctx context.Context, userID, assetID string) error {
	key := "position:" + userID + ":" + assetID
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return classify("lock "+key, err)
	}
	return nil
}

func (t *pgTx) GetUser(ctx context.Context, id string) (*model.User, error) {
	return getUser(ctx, t.tx, id)
}

func (t *pgTx) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	return getAsset(ctx, t.tx, id)
}

func (t *pgTx) SumSharesHeld(ctx context.Context, assetID string) (decimal.Decimal, error) {
	return sumSharesHeld(ctx, t.tx, assetID)
}

func (t *pgTx) GetPosition(ctx context.Context, userID, assetID string) (*model.Position, error) {
	p, err := scanPosition(t.tx.QueryRow(ctx,
		selectPosition+` WHERE user_id = $1 AND asset_id = $2`, userID, assetID))
	if err != nil {
		return nil, classify(fmt.Sprintf("position %s/%s", userID, assetID), err)
	}
	return p, nil
}

func (t *pgTx) UpsertPosition(ctx context.Context, p *model.Position) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO positions (user_id, asset_id, shares, average_cost, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5)
		 ON CONFLICT (user_id, asset_id) DO UPDATE
		 SET shares = EXCLUDED.shares, average_cost = EXCLUDED.average_cost, updated_at = EXCLUDED.updated_at`,
		p.UserID, p.AssetID, p.Shares.String(), p.AverageCost.String(), p.UpdatedAt,
	)
	return classify("upsert position", err)
}

func (t *pgTx) DeletePosition(ctx context.Context, userID, assetID string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM positions WHERE user_id = $1 AND asset_id = $2`, userID, assetID)
	return classify("delete position", err)
}

func (t *pgTx) AppendTradeEvent(ctx context.Context, e *model.TradeEvent) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO trade_events (id, user_id, asset_id, side, quantity, execution_price,
		                           gross_value, fee, net_consideration, realized_pnl, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11)`,
		e.ID, e.UserID, e.AssetID, e.Side,
		e.Quantity.String(), e.ExecutionPrice.String(), e.GrossValue.String(),
		e.Fee.String(), e.NetConsideration.String(), e.RealizedPnL.String(),
		e.CreatedAt,
	)
	return classify("append trade", err)
}

func (t *pgTx) AppendOrderRecord(ctx context.Context, o *model.OrderRecord) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO order_records (id, trade_id, user_id, asset_id, side, order_type,
		                            quantity, limit_price, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9, $10)`,
		o.ID, o.TradeID, o.UserID, o.AssetID, o.Side, o.OrderType,
		o.Quantity.String(), decPtrArg(o.LimitPrice), o.Status, o.CreatedAt,
	)
	return classify("append order", err)
}

// --- Shared queries ---

const selectAsset = `SELECT id, symbol, name, current_price::TEXT, total_issuable_shares::TEXT,
        created_at, updated_at
 FROM assets`

const selectPosition = `SELECT user_id, asset_id, shares::TEXT, average_cost::TEXT, updated_at
 FROM positions`

func getAsset(ctx context.Context, q querier, id string) (*model.Asset, error) {
	a, err := scanAsset(q.QueryRow(ctx, selectAsset+` WHERE id = $1`, id))
	if err != nil {
		return nil, classify("asset "+id, err)
	}
	return a, nil
}

func getUser(ctx context.Context, q querier, id string) (*model.User, error) {
	var u model.User
	err := q.QueryRow(ctx, `SELECT id, wallet_address, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.WalletAddress, &u.CreatedAt)
	if err != nil {
		return nil, classify("user "+id, err)
	}
	return &u, nil
}

func sumSharesHeld(ctx context.Context, q querier, assetID string) (decimal.Decimal, error) {
	var total string
	err := q.QueryRow(ctx,
		`SELECT COALESCE(SUM(shares), 0)::TEXT FROM positions WHERE asset_id = $1`, assetID).
		Scan(&total)
	if err != nil {
		return decimal.Zero, classify("sum shares "+assetID, err)
	}
	return dec(total), nil
}

func scanAsset(row pgx.Row) (*model.Asset, error) {
	var a model.Asset
	var price string
	var cap *string
	if err := row.Scan(&a.ID, &a.Symbol, &a.Name, &price, &cap, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.CurrentPrice = dec(price)
	a.TotalIssuableShares = decPtr(cap)
	return &a, nil
}

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var shares, avg string
	if err := row.Scan(&p.UserID, &p.AssetID, &shares, &avg, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Shares = dec(shares)
	p.AverageCost = dec(avg)
	return &p, nil
}

func dec(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func decPtr(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	v := dec(*s)
	return &v
}

func decPtrArg(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

// classify maps a pgx error onto the store sentinels. nil stays nil.
func classify(what string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03", // lock_not_available
			"57014": // query_canceled
			return fmt.Errorf("%s: %w: %w", what, ErrContention, err)
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w: %w", what, ErrConflict, err)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: %w: %w", what, ErrNotFound, err)
		}
		return fmt.Errorf("%s: %w", what, err)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", what, ErrContention, err)
	}
	return fmt.Errorf("%s: %w: %w", what, ErrUnavailable, err)
}
