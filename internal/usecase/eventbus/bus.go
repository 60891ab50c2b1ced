// Package eventbus delivers domain events to in-process observers (metrics,
// logs) without ever blocking the conversation that publishes them.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"chatsim/internal/domain"
)

// DefaultQueueSize is the per-subscriber buffer used when New gets zero.
const DefaultQueueSize = 256

type delivery struct {
	ctx   context.Context
	event domain.Event
}

// subscription owns one queue and one worker goroutine, so each subscriber
// sees events in publish order.
type subscription struct {
	id      uint64
	typ     domain.EventType // empty for all-event subscribers
	handler domain.EventHandler
	queue   chan delivery
	done    chan struct{}
}

// Bus is an in-process, goroutine-safe event bus. Publish never blocks: a
// subscriber whose queue is full loses the event and the drop is counted.
type Bus struct {
	mu        sync.RWMutex
	subs      map[uint64]*subscription
	nextID    atomic.Uint64
	dropped   atomic.Uint64
	queueSize int
	logger    *slog.Logger
	closed    atomic.Bool
}

// New creates an event bus with the given per-subscriber queue size.
func New(queueSize int, logger *slog.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		subs:      make(map[uint64]*subscription),
		queueSize: queueSize,
		logger:    logger,
	}
}

// Publish enqueues event for every matching subscriber.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.typ != "" && sub.typ != event.Type {
			continue
		}
		select {
		case sub.queue <- delivery{ctx: ctx, event: event}:
		default:
			b.dropped.Add(1)
			b.logger.Warn("event dropped, subscriber queue full",
				"event", string(event.Type),
				"session_id", event.SessionID,
			)
		}
	}
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.add(eventType, handler)
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.add("", handler)
}

func (b *Bus) add(typ domain.EventType, handler domain.EventHandler) func() {
	sub := &subscription{
		id:      b.nextID.Add(1),
		typ:     typ,
		handler: handler,
		queue:   make(chan delivery, b.queueSize),
		done:    make(chan struct{}),
	}
	go b.run(sub)

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		close(sub.queue)
		return func() {}
	}
	b.subs[sub.id] = sub
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			_, ok := b.subs[sub.id]
			delete(b.subs, sub.id)
			b.mu.Unlock()
			if ok {
				close(sub.queue)
			}
		})
	}
}

func (b *Bus) run(sub *subscription) {
	defer close(sub.done)
	for d := range sub.queue {
		b.invoke(sub, d)
	}
}

func (b *Bus) invoke(sub *subscription, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(d.event.Type),
				"panic", r,
			)
		}
	}()
	sub.handler(d.ctx, d.event)
}

// Dropped returns the number of deliveries lost to full queues.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close stops accepting events and waits until every subscriber has drained
// its queue. Idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}

	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for id, sub := range b.subs {
		subs = append(subs, sub)
		close(sub.queue)
		delete(b.subs, id)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		<-sub.done
	}
}

var _ domain.EventBus = (*Bus)(nil)
