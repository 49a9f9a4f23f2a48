package events

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrQueueFull = errors.New("events: publish queue full")
	ErrClosed    = errors.New("events: publisher closed")
)

// Async decouples publishing from the request path. Settlements are queued
// and delivered by a single worker, so the downstream publisher sees them
// in the order they were enqueued. When the queue is full the settlement
// is dropped and ErrQueueFull returned; the HTTP response never waits on
// the broker.
type Async struct {
	next  Publisher
	queue chan Settlement
	onErr func(Settlement, error)

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsync starts a worker delivering to next. onErr, if set, is called
// from the worker for every failed delivery.
func NewAsync(next Publisher, size int, onErr func(Settlement, error)) *Async {
	if size <= 0 {
		size = 1024
	}
	a := &Async{
		next:  next,
		queue: make(chan Settlement, size),
		onErr: onErr,
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for s := range a.queue {
		if err := a.next.PublishSettlement(context.Background(), s); err != nil && a.onErr != nil {
			a.onErr(s, err)
		}
	}
}

// PublishSettlement enqueues s without blocking.
func (a *Async) PublishSettlement(_ context.Context, s Settlement) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- s:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close drains the queue, then closes the downstream publisher.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return a.next.Close()
}
