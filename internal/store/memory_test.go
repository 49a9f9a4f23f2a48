package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lugondev/rwa-example-privy.io-sub002/internal/model"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/store"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) store.Store {
		return store.NewMemoryStore()
	})
}

func TestMemoryStore_LockTimeout(t *testing.T) {
	s := store.NewMemoryStore()
	s.SetLockTimeout(30 * time.Millisecond)
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.LockAssetSupply(ctx, "a"); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.LockAssetSupply(ctx, "a")
	})
	assert.True(t, errors.Is(err, store.ErrContention), "got %v", err)

	// Other keys are independent.
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		return tx.LockAssetSupply(ctx, "b")
	}))

	close(release)
	require.NoError(t, <-done)

	// Released after the holder finished.
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		return tx.LockAssetSupply(ctx, "a")
	}))
}

func TestMemoryStore_LockHonoursCancellation(t *testing.T) {
	s := store.NewMemoryStore()
	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.WithTx(context.Background(), func(tx store.Tx) error {
			_ = tx.LockPosition(context.Background(), "u", "a")
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.LockPosition(ctx, "u", "a")
	})
	assert.True(t, errors.Is(err, store.ErrContention), "got %v", err)
}

func TestMemoryStore_LocksAreReentrant(t *testing.T) {
	s := store.NewMemoryStore()
	s.SetLockTimeout(20 * time.Millisecond)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.LockPosition(ctx, "u", "a"); err != nil {
			return err
		}
		return tx.LockPosition(ctx, "u", "a")
	})
	assert.NoError(t, err)
}

func TestMemoryStore_UncommittedWritesInvisible(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.UpsertPosition(ctx, &model.Position{
			UserID: "u1", AssetID: "asset-a", Shares: d("1"), AverageCost: d("1"), UpdatedAt: t0,
		}); err != nil {
			return err
		}
		positions, err := s.ListPositions(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, positions)
		return nil
	})
	require.NoError(t, err)

	positions, err := s.ListPositions(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, positions, 1)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s)
	ctx := context.Background()

	a, err := s.GetAsset(ctx, "asset-a")
	require.NoError(t, err)
	a.Name = "mutated"

	again, err := s.GetAsset(ctx, "asset-a")
	require.NoError(t, err)
	assert.Equal(t, "Painting", again.Name)
}
