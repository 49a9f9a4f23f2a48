package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/lugondev/rwa-example-privy.io-sub002/internal/model"
)

// Decimal columns are TEXT so both PostgreSQL and SQLite keep every digit;
// SQLite's NUMERIC affinity would coerce values to REAL. Aggregates over
// shares are therefore summed in Go.

type assetRow struct {
	ID                  string              `gorm:"primaryKey"`
	Symbol              string              `gorm:"uniqueIndex;not null"`
	Name                string              `gorm:"not null"`
	CurrentPrice        decimal.Decimal     `gorm:"type:text;not null"`
	TotalIssuableShares decimal.NullDecimal `gorm:"type:text"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (assetRow) TableName() string { return "assets" }

type userRow struct {
	ID            string `gorm:"primaryKey"`
	WalletAddress string `gorm:"uniqueIndex;not null"`
	CreatedAt     time.Time
}

func (userRow) TableName() string { return "users" }

type positionRow struct {
	UserID      string          `gorm:"primaryKey"`
	AssetID     string          `gorm:"primaryKey;index"`
	Shares      decimal.Decimal `gorm:"type:text;not null"`
	AverageCost decimal.Decimal `gorm:"type:text;not null"`
	UpdatedAt   time.Time
}

func (positionRow) TableName() string { return "positions" }

type tradeEventRow struct {
	ID               string          `gorm:"primaryKey"`
	UserID           string          `gorm:"index:trade_events_user_idx;not null"`
	AssetID          string          `gorm:"not null"`
	Side             string          `gorm:"not null"`
	Quantity         decimal.Decimal `gorm:"type:text;not null"`
	ExecutionPrice   decimal.Decimal `gorm:"type:text;not null"`
	GrossValue       decimal.Decimal `gorm:"type:text;not null"`
	Fee              decimal.Decimal `gorm:"type:text;not null"`
	NetConsideration decimal.Decimal `gorm:"type:text;not null"`
	RealizedPnL      decimal.Decimal `gorm:"column:realized_pnl;type:text;not null"`
	CreatedAt        time.Time       `gorm:"index:trade_events_user_idx"`
}

func (tradeEventRow) TableName() string { return "trade_events" }

type orderRecordRow struct {
	ID         string              `gorm:"primaryKey"`
	TradeID    string              `gorm:"uniqueIndex;not null"`
	UserID     string              `gorm:"index:order_records_user_idx;not null"`
	AssetID    string              `gorm:"not null"`
	Side       string              `gorm:"not null"`
	OrderType  string              `gorm:"not null"`
	Quantity   decimal.Decimal     `gorm:"type:text;not null"`
	LimitPrice decimal.NullDecimal `gorm:"type:text"`
	Status     string              `gorm:"not null"`
	CreatedAt  time.Time           `gorm:"index:order_records_user_idx"`
}

func (orderRecordRow) TableName() string { return "order_records" }

// GormStore implements Store on GORM. It runs against PostgreSQL in
// production and SQLite in tests and single-node deployments.
//
// On PostgreSQL, supply is serialized by locking the asset row FOR UPDATE
// and positions by a transaction-scoped advisory lock. SQLite has no row
// locks; the store pins the pool to one connection so units of work run
// one at a time.
type GormStore struct {
	db          *gorm.DB
	lockTimeout time.Duration
}

// NewGormStore opens dialector and returns a store over it.
func NewGormStore(dialector gorm.Dialector, gormLogger logger.Interface) (*GormStore, error) {
	if gormLogger == nil {
		gormLogger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrUnavailable, dialector.Name(), err)
	}

	if db.Dialector.Name() == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("%w: sqlite handle: %w", ErrUnavailable, err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return &GormStore{db: db, lockTimeout: DefaultLockTimeout}, nil
}

// DB exposes the underlying handle so sibling stores can share it.
func (s *GormStore) DB() *gorm.DB { return s.db }

// SetLockTimeout changes how long a unit of work waits for a lock.
func (s *GormStore) SetLockTimeout(d time.Duration) {
	if d > 0 {
		s.lockTimeout = d
	}
}

// Migrate creates or updates the ledger tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(
		&assetRow{}, &userRow{}, &positionRow{}, &tradeEventRow{}, &orderRecordRow{},
	)
	return gormErr("migrate", err)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) isPostgres() bool { return s.db.Dialector.Name() == "postgres" }

// --- Transactional boundary ---

// WithTx acquires a connection on ctx but begins the transaction detached
// from its cancellation: database/sql rolls a transaction back as soon as
// its context ends, which would abort a write phase already under way.
// Each statement still runs on the context its Tx method receives.
func (s *GormStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	var fnErr error
	err := s.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		return conn.WithContext(context.WithoutCancel(ctx)).Transaction(func(db *gorm.DB) error {
			if s.isPostgres() {
				stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
				if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
					return gormErr("set lock_timeout", err)
				}
			}
			fnErr = fn(&gormTx{db: db, postgres: s.isPostgres()})
			return fnErr
		})
	})
	if fnErr != nil {
		return fnErr
	}
	return gormErr("transaction", err)
}

// --- Asset catalogue ---

func (s *GormStore) CreateAsset(ctx context.Context, a *model.Asset) error {
	row := toAssetRow(a)
	return gormErr("create asset "+a.ID, s.db.WithContext(ctx).Create(&row).Error)
}

func (s *GormStore) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	return gormGetAsset(s.db.WithContext(ctx), id)
}

func (s *GormStore) ListAssets(ctx context.Context) ([]model.Asset, error) {
	var rows []assetRow
	if err := s.db.WithContext(ctx).Order("symbol").Find(&rows).Error; err != nil {
		return nil, gormErr("list assets", err)
	}
	assets := make([]model.Asset, 0, len(rows))
	for _, r := range rows {
		assets = append(assets, *r.toModel())
	}
	return assets, nil
}

func (s *GormStore) UpdateAssetPrice(ctx context.Context, id string, price decimal.Decimal) error {
	res := s.db.WithContext(ctx).Model(&assetRow{}).Where("id = ?", id).
		Updates(map[string]any{"current_price": price, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return gormErr("update asset price "+id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: asset %s", ErrNotFound, id)
	}
	return nil
}

func (s *GormStore) SumSharesHeld(ctx context.Context, assetID string) (decimal.Decimal, error) {
	return gormSumShares(s.db.WithContext(ctx), assetID)
}

// --- Users ---

func (s *GormStore) CreateUser(ctx context.Context, u *model.User) error {
	row := userRow{ID: u.ID, WalletAddress: u.WalletAddress, CreatedAt: u.CreatedAt}
	return gormErr("create user "+u.ID, s.db.WithContext(ctx).Create(&row).Error)
}

func (s *GormStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return gormGetUser(s.db.WithContext(ctx), id)
}

// --- Position and history queries ---

func (s *GormStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	var rows []positionRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("asset_id").Find(&rows).Error; err != nil {
		return nil, gormErr("list positions", err)
	}
	var positions []model.Position
	for _, r := range rows {
		positions = append(positions, r.toModel())
	}
	return positions, nil
}

func (s *GormStore) ListTradeEvents(ctx context.Context, userID string) ([]model.TradeEvent, error) {
	var rows []tradeEventRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, gormErr("list trades", err)
	}
	var events []model.TradeEvent
	for _, r := range rows {
		events = append(events, model.TradeEvent{
			ID:               r.ID,
			UserID:           r.UserID,
			AssetID:          r.AssetID,
			Side:             model.Side(r.Side),
			Quantity:         r.Quantity,
			ExecutionPrice:   r.ExecutionPrice,
			GrossValue:       r.GrossValue,
			Fee:              r.Fee,
			NetConsideration: r.NetConsideration,
			RealizedPnL:      r.RealizedPnL,
			CreatedAt:        r.CreatedAt,
		})
	}
	return events, nil
}

func (s *GormStore) ListOrderRecords(ctx context.Context, userID string) ([]model.OrderRecord, error) {
	var rows []orderRecordRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, gormErr("list orders", err)
	}
	var orders []model.OrderRecord
	for _, r := range rows {
		o := model.OrderRecord{
			ID:        r.ID,
			TradeID:   r.TradeID,
			UserID:    r.UserID,
			AssetID:   r.AssetID,
			Side:      model.Side(r.Side),
			OrderType: model.OrderType(r.OrderType),
			Quantity:  r.Quantity,
			Status:    r.Status,
			CreatedAt: r.CreatedAt,
		}
		if r.LimitPrice.Valid {
			p := r.LimitPrice.Decimal
			o.LimitPrice = &p
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// --- Unit of work ---

type gormTx struct {
	db       *gorm.DB
	postgres bool
}

func (t *gormTx) LockAssetSupply(ctx context.Context, assetID string) error {
	var rows []assetRow
	err := t.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").Where("id = ?", assetID).Find(&rows).Error
	return gormErr("lock supply "+assetID, err)
}

func (t *gormTx) LockPosition(ctx context.Context, userID, assetID string) error {
	if !t.postgres {
		return nil
	}
	key := "position:" + userID + ":" + assetID
	return gormErr("lock "+key, t.db.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error)
}

func (t *gormTx) GetUser(ctx context.Context, id string) (*model.User, error) {
	return gormGetUser(t.db.WithContext(ctx), id)
}

func (t *gormTx) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	return gormGetAsset(t.db.WithContext(ctx), id)
}

func (t *gormTx) SumSharesHeld(ctx context.Context, assetID string) (decimal.Decimal, error) {
	return gormSumShares(t.db.WithContext(ctx), assetID)
}

func (t *gormTx) GetPosition(ctx context.Context, userID, assetID string) (*model.Position, error) {
	var row positionRow
	err := t.db.WithContext(ctx).Where("user_id = ? AND asset_id = ?", userID, assetID).Take(&row).Error
	if err != nil {
		return nil, gormErr(fmt.Sprintf("position %s/%s", userID, assetID), err)
	}
	p := row.toModel()
	return &p, nil
}

func (t *gormTx) UpsertPosition(ctx context.Context, p *model.Position) error {
	row := positionRow{
		UserID:      p.UserID,
		AssetID:     p.AssetID,
		Shares:      p.Shares,
		AverageCost: p.AverageCost,
		UpdatedAt:   p.UpdatedAt,
	}
	err := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "asset_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"shares", "average_cost", "updated_at"}),
	}).Create(&row).Error
	return gormErr("upsert position", err)
}

func (t *gormTx) DeletePosition(ctx context.Context, userID, assetID string) error {
	err := t.db.WithContext(ctx).Where("user_id = ? AND asset_id = ?", userID, assetID).Delete(&positionRow{}).Error
	return gormErr("delete position", err)
}

func (t *gormTx) AppendTradeEvent(ctx context.Context, e *model.TradeEvent) error {
	row := tradeEventRow{
		ID:               e.ID,
		UserID:           e.UserID,
		AssetID:          e.AssetID,
		Side:             string(e.Side),
		Quantity:         e.Quantity,
		ExecutionPrice:   e.ExecutionPrice,
		GrossValue:       e.GrossValue,
		Fee:              e.Fee,
		NetConsideration: e.NetConsideration,
		RealizedPnL:      e.RealizedPnL,
		CreatedAt:        e.CreatedAt,
	}
	return gormErr("append trade", t.db.WithContext(ctx).Create(&row).Error)
}

func (t *gormTx) AppendOrderRecord(ctx context.Context, o *model.OrderRecord) error {
	row := orderRecordRow{
		ID:        o.ID,
		TradeID:   o.TradeID,
		UserID:    o.UserID,
		AssetID:   o.AssetID,
		Side:      string(o.Side),
		OrderType: string(o.OrderType),
		Quantity:  o.Quantity,
		Status:    o.Status,
		CreatedAt: o.CreatedAt,
	}
	if o.LimitPrice != nil {
		row.LimitPrice = decimal.NewNullDecimal(*o.LimitPrice)
	}
	return gormErr("append order", t.db.WithContext(ctx).Create(&row).Error)
}

// --- Shared queries and conversions ---

func gormGetAsset(db *gorm.DB, id string) (*model.Asset, error) {
	var row assetRow
	if err := db.Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, gormErr("asset "+id, err)
	}
	return row.toModel(), nil
}

func gormGetUser(db *gorm.DB, id string) (*model.User, error) {
	var row userRow
	if err := db.Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, gormErr("user "+id, err)
	}
	return &model.User{ID: row.ID, WalletAddress: row.WalletAddress, CreatedAt: row.CreatedAt}, nil
}

func gormSumShares(db *gorm.DB, assetID string) (decimal.Decimal, error) {
	var shares []decimal.Decimal
	if err := db.Model(&positionRow{}).Where("asset_id = ?", assetID).Pluck("shares", &shares).Error; err != nil {
		return decimal.Zero, gormErr("sum shares "+assetID, err)
	}
	total := decimal.Zero
	for _, s := range shares {
		total = total.Add(s)
	}
	return total, nil
}

func toAssetRow(a *model.Asset) assetRow {
	row := assetRow{
		ID:           a.ID,
		Symbol:       a.Symbol,
		Name:         a.Name,
		CurrentPrice: a.CurrentPrice,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
	if a.TotalIssuableShares != nil {
		row.TotalIssuableShares = decimal.NewNullDecimal(*a.TotalIssuableShares)
	}
	return row
}

func (r assetRow) toModel() *model.Asset {
	a := &model.Asset{
		ID:           r.ID,
		Symbol:       r.Symbol,
		Name:         r.Name,
		CurrentPrice: r.CurrentPrice,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.TotalIssuableShares.Valid {
		c := r.TotalIssuableShares.Decimal
		a.TotalIssuableShares = &c
	}
	return a
}

func (r positionRow) toModel() model.Position {
	return model.Position{
		UserID:      r.UserID,
		AssetID:     r.AssetID,
		Shares:      r.Shares,
		AverageCost: r.AverageCost,
		UpdatedAt:   r.UpdatedAt,
	}
}

// gormErr maps GORM and driver errors onto the store sentinels.
func gormErr(what string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w: %w", what, ErrConflict, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classify(what, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return fmt.Errorf("%s: %w: %w", what, ErrConflict, err)
	}
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return fmt.Errorf("%s: %w: %w", what, ErrContention, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", what, ErrContention, err)
	}
	return fmt.Errorf("%s: %w: %w", what, ErrUnavailable, err)
}
