package notify

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// Bus is an in-process Publisher. Events go through a buffered channel to
// a single dispatcher goroutine; a full buffer drops the event.
type Bus struct {
	ch      chan Event
	d       Dispatcher
	timeout time.Duration
	log     *logger.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewBus starts a bus delivering to d. timeout bounds each dispatch.
func NewBus(d Dispatcher, buffer int, timeout time.Duration) *Bus {
	if buffer <= 0 {
		buffer = 1
	}
	b := &Bus{
		ch:      make(chan Event, buffer),
		d:       d,
		timeout: timeout,
		log:     logger.With("component", "notify.Bus"),
		done:    make(chan struct{}),
	}
	go b.run()
	return b
}

// Publish enqueues e without blocking.
func (b *Bus) Publish(_ context.Context, e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.log.Warn("event published after close", "event", e.Name)
		return
	}
	select {
	case b.ch <- e:
	default:
		b.log.Error("event buffer full, dropping", "event", e.Name)
	}
}

func (b *Bus) run() {
	defer close(b.done)
	for e := range b.ch {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		if err := b.d.Dispatch(ctx, e); err != nil {
			b.log.Error("event dispatch failed", "event", e.Name, "error", err.Error())
		}
		cancel()
	}
}

// Close stops accepting events and waits until buffered ones are dispatched.
func (b *Bus) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
	b.mu.Unlock()
	<-b.done
}
