// Package monitor owns the runtime (component F): three periodic tasks
// (price poll, on-chain refresh, PnL update) and the broadcast channels
// that fan their output out to subscribers. The broadcast mechanism is
// built the same way pkg/api's websocket Hub fans out to clients: a
// non-blocking send per subscriber, here generalized from "skip this
// client" to oldest-drop so a slow subscriber lags instead of stalling
// the publisher.
package monitor

import (
	"sync"

	"go.uber.org/zap"
)

// Broadcaster fans out values of type T to any number of subscribers,
// each with its own bounded buffer. A subscriber that falls behind has
// its oldest buffered value dropped to make room for the new one, so
// the publisher never blocks on a slow reader ("broadcast
// delivery is best-effort; slow subscribers are lagged, not
// back-pressured").
type Broadcaster[T any] struct {
	mu       sync.Mutex
	subs     map[int]chan T
	nextID   int
	capacity int
	name     string
	log      *zap.Logger
	lagCount int64
}

// NewBroadcaster builds a Broadcaster with the given per-subscriber
// buffer capacity. name identifies the channel in log lines (e.g.
// "prices", "positions", "alerts").
func NewBroadcaster[T any](capacity int, name string, log *zap.Logger) *Broadcaster[T] {
	return &Broadcaster[T]{
		subs:     make(map[int]chan T),
		capacity: capacity,
		name:     name,
		log:      log,
	}
}

// Subscribe registers a new listener and returns its receive channel
// plus an unsubscribe function. The caller must call unsubscribe when
// done to release the channel.
func (b *Broadcaster[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan T, b.capacity)
	b.subs[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Publish delivers v to every current subscriber. A subscriber whose
// buffer is full has its oldest value evicted to make room; this is
// logged once per occurrence with a running lag count.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- v:
			continue
		default:
		}

		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}

		b.lagCount++
		if b.log != nil {
			b.log.Warn("broadcast subscriber lagging, oldest value dropped",
				zap.String("channel", b.name),
				zap.Int("subscriber", id),
				zap.Int64("lag_count", b.lagCount),
			)
		}
	}
}

// SubscriberCount returns the number of currently-registered subscribers.
func (b *Broadcaster[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
