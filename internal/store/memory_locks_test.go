package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLocks_SlotsFreedOnRelease(t *testing.T) {
	k := newKeyedLocks()
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("position:u%d:a1", i)
		require.NoError(t, k.acquire(ctx, key, time.Second))
		k.release(key)
	}
	assert.Zero(t, k.size())
}

func TestKeyedLocks_WaitersKeepSlot(t *testing.T) {
	k := newKeyedLocks()
	ctx := context.Background()
	require.NoError(t, k.acquire(ctx, "supply:a1", time.Second))

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := k.acquire(ctx, "supply:a1", 5*time.Second); err != nil {
				errs <- err
				return
			}
			k.release("supply:a1")
		}()
	}

	time.Sleep(20 * time.Millisecond)
	k.release("supply:a1")
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("waiter: %v", err)
	}
	assert.Zero(t, k.size())
}

func TestKeyedLocks_FailedAcquireFreesSlot(t *testing.T) {
	k := newKeyedLocks()
	ctx := context.Background()
	require.NoError(t, k.acquire(ctx, "supply:a1", time.Second))

	err := k.acquire(ctx, "supply:a1", 10*time.Millisecond)
	assert.True(t, errors.Is(err, ErrContention), "got %v", err)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	err = k.acquire(cctx, "supply:a1", time.Second)
	assert.True(t, errors.Is(err, ErrContention), "got %v", err)

	assert.Equal(t, 1, k.size())
	k.release("supply:a1")
	assert.Zero(t, k.size())
}
