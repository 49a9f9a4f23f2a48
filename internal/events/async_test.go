package events_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lugondev/rwa-example-privy.io-sub002/internal/events"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/model"
)

// recorder collects delivered trade IDs. gate, when set, blocks delivery
// until it is closed.
type recorder struct {
	mu     sync.Mutex
	ids    []string
	gate   chan struct{}
	fail   bool
	closed bool
}

func (r *recorder) PublishSettlement(_ context.Context, s events.Settlement) error {
	if r.gate != nil {
		<-r.gate
	}
	if r.fail {
		return errors.New("broker down")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, s.Trade.ID)
	return nil
}

func (r *recorder) Close() error {
	r.closed = true
	return nil
}

func settlement(id string) events.Settlement {
	return events.Settlement{Type: events.TypeTradeSettled, Trade: model.TradeEvent{ID: id}}
}

func TestAsync_DeliversInOrder(t *testing.T) {
	rec := &recorder{}
	a := events.NewAsync(rec, 16, nil)

	for _, id := range []string{"t1", "t2", "t3", "t4"} {
		require.NoError(t, a.PublishSettlement(context.Background(), settlement(id)))
	}
	require.NoError(t, a.Close())

	assert.Equal(t, []string{"t1", "t2", "t3", "t4"}, rec.ids)
	assert.True(t, rec.closed)
}

func TestAsync_QueueFull(t *testing.T) {
	rec := &recorder{gate: make(chan struct{})}
	a := events.NewAsync(rec, 1, nil)

	// The worker may already hold t1, so fill until the queue refuses.
	var err error
	for i := 0; i < 3 && err == nil; i++ {
		err = a.PublishSettlement(context.Background(), settlement("t"))
	}
	assert.ErrorIs(t, err, events.ErrQueueFull)

	close(rec.gate)
	require.NoError(t, a.Close())
}

func TestAsync_ReportsFailures(t *testing.T) {
	rec := &recorder{fail: true}
	var mu sync.Mutex
	var failed []string
	a := events.NewAsync(rec, 4, func(s events.Settlement, err error) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, s.Trade.ID)
	})

	require.NoError(t, a.PublishSettlement(context.Background(), settlement("t1")))
	require.NoError(t, a.Close())

	assert.Equal(t, []string{"t1"}, failed)
}

func TestAsync_PublishAfterClose(t *testing.T) {
	a := events.NewAsync(&recorder{}, 4, nil)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	err := a.PublishSettlement(context.Background(), settlement("late"))
	assert.ErrorIs(t, err, events.ErrClosed)
}
