package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lugondev/rwa-example-privy.io-sub002/internal/model"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/store"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func seed(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()
	cap := d("500")
	require.NoError(t, s.CreateAsset(ctx, &model.Asset{
		ID: "asset-b", Symbol: "BLDG", Name: "Office Building", CurrentPrice: d("25.5"),
		TotalIssuableShares: &cap, CreatedAt: t0, UpdatedAt: t0,
	}))
	require.NoError(t, s.CreateAsset(ctx, &model.Asset{
		ID: "asset-a", Symbol: "ART", Name: "Painting", CurrentPrice: d("100"),
		CreatedAt: t0, UpdatedAt: t0,
	}))
	require.NoError(t, s.CreateUser(ctx, &model.User{
		ID: "u1", WalletAddress: "0x1111111111111111111111111111111111111111", CreatedAt: t0,
	}))
	require.NoError(t, s.CreateUser(ctx, &model.User{
		ID: "u2", WalletAddress: "0x2222222222222222222222222222222222222222", CreatedAt: t0,
	}))
}

func trade(id, user, asset string, at time.Time) *model.TradeEvent {
	return &model.TradeEvent{
		ID: id, UserID: user, AssetID: asset, Side: model.SideBuy,
		Quantity: d("2"), ExecutionPrice: d("100"), GrossValue: d("200"),
		Fee: d("0.2"), NetConsideration: d("200.2"), RealizedPnL: decimal.Zero,
		CreatedAt: at,
	}
}

func order(id, tradeID, user, asset string, at time.Time, limit *decimal.Decimal) *model.OrderRecord {
	ot := model.OrderTypeMarket
	if limit != nil {
		ot = model.OrderTypeLimit
	}
	return &model.OrderRecord{
		ID: id, TradeID: tradeID, UserID: user, AssetID: asset, Side: model.SideBuy,
		OrderType: ot, Quantity: d("2"), LimitPrice: limit,
		Status: model.OrderStatusFilled, CreatedAt: at,
	}
}

// runStoreSuite checks the Store contract against any backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("assets", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		ctx := context.Background()

		a, err := s.GetAsset(ctx, "asset-b")
		require.NoError(t, err)
		assert.Equal(t, "BLDG", a.Symbol)
		assert.True(t, d("25.5").Equal(a.CurrentPrice))
		require.NotNil(t, a.TotalIssuableShares)
		assert.True(t, d("500").Equal(*a.TotalIssuableShares))

		a, err = s.GetAsset(ctx, "asset-a")
		require.NoError(t, err)
		assert.Nil(t, a.TotalIssuableShares)

		_, err = s.GetAsset(ctx, "missing")
		assert.True(t, errors.Is(err, store.ErrNotFound))

		err = s.CreateAsset(ctx, &model.Asset{
			ID: "asset-c", Symbol: "ART", Name: "Dup", CurrentPrice: d("1"), CreatedAt: t0, UpdatedAt: t0,
		})
		assert.True(t, errors.Is(err, store.ErrConflict), "duplicate symbol: %v", err)

		list, err := s.ListAssets(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "ART", list[0].Symbol)
		assert.Equal(t, "BLDG", list[1].Symbol)

		require.NoError(t, s.UpdateAssetPrice(ctx, "asset-a", d("101.25")))
		a, err = s.GetAsset(ctx, "asset-a")
		require.NoError(t, err)
		assert.True(t, d("101.25").Equal(a.CurrentPrice))

		err = s.UpdateAssetPrice(ctx, "missing", d("1"))
		assert.True(t, errors.Is(err, store.ErrNotFound))
	})

	t.Run("users", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		ctx := context.Background()

		u, err := s.GetUser(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "0x1111111111111111111111111111111111111111", u.WalletAddress)

		_, err = s.GetUser(ctx, "nobody")
		assert.True(t, errors.Is(err, store.ErrNotFound))

		err = s.CreateUser(ctx, &model.User{
			ID: "u3", WalletAddress: "0x1111111111111111111111111111111111111111", CreatedAt: t0,
		})
		assert.True(t, errors.Is(err, store.ErrConflict), "duplicate wallet: %v", err)
	})

	t.Run("commit", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		ctx := context.Background()
		limit := d("99.5")

		err := s.WithTx(ctx, func(tx store.Tx) error {
			require.NoError(t, tx.LockAssetSupply(ctx, "asset-a"))
			require.NoError(t, tx.LockPosition(ctx, "u1", "asset-a"))

			_, err := tx.GetPosition(ctx, "u1", "asset-a")
			assert.True(t, errors.Is(err, store.ErrNotFound))

			if err := tx.AppendTradeEvent(ctx, trade("t1", "u1", "asset-a", t0)); err != nil {
				return err
			}
			if err := tx.AppendOrderRecord(ctx, order("o1", "t1", "u1", "asset-a", t0, &limit)); err != nil {
				return err
			}
			return tx.UpsertPosition(ctx, &model.Position{
				UserID: "u1", AssetID: "asset-a", Shares: d("2"), AverageCost: d("100.1"), UpdatedAt: t0,
			})
		})
		require.NoError(t, err)

		err = s.WithTx(ctx, func(tx store.Tx) error {
			p, err := tx.GetPosition(ctx, "u1", "asset-a")
			require.NoError(t, err)
			assert.True(t, d("2").Equal(p.Shares))

			if err := tx.AppendTradeEvent(ctx, trade("t2", "u1", "asset-a", t0.Add(time.Second))); err != nil {
				return err
			}
			if err := tx.AppendOrderRecord(ctx, order("o2", "t2", "u1", "asset-a", t0.Add(time.Second), nil)); err != nil {
				return err
			}
			return tx.UpsertPosition(ctx, &model.Position{
				UserID: "u1", AssetID: "asset-a", Shares: d("4"), AverageCost: d("100.1"), UpdatedAt: t0,
			})
		})
		require.NoError(t, err)

		positions, err := s.ListPositions(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, positions, 1)
		assert.True(t, d("4").Equal(positions[0].Shares))
		assert.True(t, d("100.1").Equal(positions[0].AverageCost))

		held, err := s.SumSharesHeld(ctx, "asset-a")
		require.NoError(t, err)
		assert.True(t, d("4").Equal(held))

		trades, err := s.ListTradeEvents(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, trades, 2)
		assert.Equal(t, "t1", trades[0].ID)
		assert.Equal(t, "t2", trades[1].ID)
		assert.True(t, d("200.2").Equal(trades[0].NetConsideration))

		orders, err := s.ListOrderRecords(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, orders, 2)
		require.NotNil(t, orders[0].LimitPrice)
		assert.True(t, limit.Equal(*orders[0].LimitPrice))
		assert.Nil(t, orders[1].LimitPrice)
		assert.Equal(t, model.OrderTypeMarket, orders[1].OrderType)

		none, err := s.ListTradeEvents(ctx, "u2")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("rollback", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		ctx := context.Background()
		boom := errors.New("boom")

		err := s.WithTx(ctx, func(tx store.Tx) error {
			require.NoError(t, tx.AppendTradeEvent(ctx, trade("t1", "u1", "asset-a", t0)))
			require.NoError(t, tx.UpsertPosition(ctx, &model.Position{
				UserID: "u1", AssetID: "asset-a", Shares: d("2"), AverageCost: d("1"), UpdatedAt: t0,
			}))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		positions, err := s.ListPositions(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, positions)
		trades, err := s.ListTradeEvents(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, trades)
	})

	t.Run("delete position", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		ctx := context.Background()

		require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.UpsertPosition(ctx, &model.Position{
				UserID: "u1", AssetID: "asset-b", Shares: d("3"), AverageCost: d("25"), UpdatedAt: t0,
			}); err != nil {
				return err
			}
			return tx.UpsertPosition(ctx, &model.Position{
				UserID: "u2", AssetID: "asset-b", Shares: d("7"), AverageCost: d("26"), UpdatedAt: t0,
			})
		}))

		held, err := s.SumSharesHeld(ctx, "asset-b")
		require.NoError(t, err)
		assert.True(t, d("10").Equal(held))

		require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
			return tx.DeletePosition(ctx, "u1", "asset-b")
		}))

		positions, err := s.ListPositions(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, positions)

		held, err = s.SumSharesHeld(ctx, "asset-b")
		require.NoError(t, err)
		assert.True(t, d("7").Equal(held))
	})
}
