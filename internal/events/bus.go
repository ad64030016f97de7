package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultQueueSize is the per-subscriber buffer used by NewEventBus.
const DefaultQueueSize = 256

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus delivers events to named subscribers. Each subscriber owns a
// buffered queue drained by its own goroutine, so a subscriber sees events
// in emission order and a slow subscriber never blocks the emitter. Events
// that do not fit in a full queue are dropped and counted.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	queueSize   int
	stopped     bool
	stopCh      chan struct{}
	wg          sync.WaitGroup
	dropped     atomic.Uint64
}

type envelope struct {
	ctx   context.Context
	event Event
}

type subscriber struct {
	name    string
	types   map[EventType]bool
	handler HandlerFunc
	queue   chan envelope
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return NewEventBusSize(DefaultQueueSize)
}

// NewEventBusSize creates an EventBus with the given per-subscriber queue size.
func NewEventBusSize(queueSize int) *EventBus {
	if queueSize < 1 {
		queueSize = 1
	}
	return &EventBus{
		subscribers: make(map[string]*subscriber),
		queueSize:   queueSize,
		stopCh:      make(chan struct{}),
	}
}

// Subscribe registers a named handler for the given event types. With no
// types the handler receives every event. Subscribing an existing name
// replaces the previous subscription.
func (eb *EventBus) Subscribe(name string, handler HandlerFunc, types ...EventType) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.stopped {
		return
	}
	if old, ok := eb.subscribers[name]; ok {
		close(old.queue)
	}

	sub := &subscriber{
		name:    name,
		handler: handler,
		queue:   make(chan envelope, eb.queueSize),
	}
	if len(types) > 0 {
		sub.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}
	eb.subscribers[name] = sub

	eb.wg.Add(1)
	go eb.run(sub)

	log.Debug().
		Str("handler", name).
		Int("types", len(types)).
		Msg("subscribed to events")
}

// Unsubscribe removes a named handler. Events already queued for it are
// still delivered.
func (eb *EventBus) Unsubscribe(name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	sub, ok := eb.subscribers[name]
	if !ok {
		return
	}
	delete(eb.subscribers, name)
	close(sub.queue)

	log.Debug().Str("handler", name).Msg("unsubscribed from events")
}

// Emit queues an event for every interested subscriber without blocking.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	// Delivery must outlive a cancelled emitter, e.g. the final
	// session_closed during shutdown.
	env := envelope{ctx: context.WithoutCancel(ctx), event: event}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped {
		return
	}

	for _, sub := range eb.subscribers {
		if sub.types != nil && !sub.types[event.Type] {
			continue
		}
		select {
		case sub.queue <- env:
		default:
			eb.dropped.Add(1)
			log.Warn().
				Str("event", string(event.Type)).
				Str("handler", sub.name).
				Msg("subscriber queue full, event dropped")
		}
	}
}

func (eb *EventBus) run(sub *subscriber) {
	defer eb.wg.Done()
	for env := range sub.queue {
		eb.deliver(sub, env)
	}
}

func (eb *EventBus) deliver(sub *subscriber, env envelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(env.event.Type)).
				Str("handler", sub.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	if err := sub.handler(env.ctx, env.event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(env.event.Type)).
			Str("handler", sub.name).
			Msg("handler returned error")
	}
}

// Stop stops accepting new events, drains every queue and waits for the
// subscribers to finish.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	close(eb.stopCh)
	for name, sub := range eb.subscribers {
		close(sub.queue)
		delete(eb.subscribers, name)
	}
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Info().Uint64("dropped", eb.dropped.Load()).Msg("event bus stopped")
}

// StopCh returns a channel that is closed when the EventBus is stopped.
func (eb *EventBus) StopCh() <-chan struct{} {
	return eb.stopCh
}

// HandlerCount returns the number of subscribers that receive eventType.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	n := 0
	for _, sub := range eb.subscribers {
		if sub.types == nil || sub.types[eventType] {
			n++
		}
	}
	return n
}

// Dropped returns how many events were discarded because a queue was full.
func (eb *EventBus) Dropped() uint64 {
	return eb.dropped.Load()
}
