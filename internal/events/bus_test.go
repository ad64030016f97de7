package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func TestEmitPreservesOrderPerSubscriber(t *testing.T) {
	bus := NewEventBus()
	rec := &recorder{}
	bus.Subscribe("rec", rec.handle)

	want := AllTypes()
	for _, typ := range want {
		bus.Emit(context.Background(), Event{Type: typ, Source: "test"})
	}
	bus.Stop()

	assert.Equal(t, want, rec.types())
}

func TestSubscribeFiltersTypes(t *testing.T) {
	bus := NewEventBus()
	rec := &recorder{}
	bus.Subscribe("closed-only", rec.handle, EventSessionClosed)

	assert.Equal(t, 1, bus.HandlerCount(EventSessionClosed))
	assert.Equal(t, 0, bus.HandlerCount(EventSessionOpened))

	bus.Emit(context.Background(), Event{Type: EventSessionOpened})
	bus.Emit(context.Background(), Event{Type: EventSessionClosed})
	bus.Stop()

	assert.Equal(t, []EventType{EventSessionClosed}, rec.types())
}

func TestEmitSurvivesCancelledContext(t *testing.T) {
	bus := NewEventBus()
	var got error = errors.New("unset")
	bus.Subscribe("ctx", func(ctx context.Context, _ Event) error {
		got = ctx.Err()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Emit(ctx, Event{Type: EventSessionClosed})
	bus.Stop()

	assert.NoError(t, got)
}

func TestFullQueueDropsInsteadOfBlocking(t *testing.T) {
	bus := NewEventBusSize(1)
	release := make(chan struct{})
	bus.Subscribe("slow", func(context.Context, Event) error {
		<-release
		return nil
	})

	for i := 0; i < 10; i++ {
		bus.Emit(context.Background(), Event{Type: EventRequestHandled})
	}
	assert.NotZero(t, bus.Dropped())

	close(release)
	bus.Stop()
}

func TestHandlerPanicIsContained(t *testing.T) {
	bus := NewEventBus()
	rec := &recorder{}
	bus.Subscribe("panics", func(context.Context, Event) error { panic("boom") })
	bus.Subscribe("rec", rec.handle)

	bus.Emit(context.Background(), Event{Type: EventServerStopped})
	bus.Emit(context.Background(), Event{Type: EventServerStopped})
	bus.Stop()

	assert.Len(t, rec.types(), 2)
}

func TestUnsubscribeAndStop(t *testing.T) {
	bus := NewEventBus()
	rec := &recorder{}
	bus.Subscribe("rec", rec.handle)
	bus.Unsubscribe("rec")
	require.Equal(t, 0, bus.HandlerCount(EventSessionOpened))

	bus.Emit(context.Background(), Event{Type: EventSessionOpened})
	bus.Stop()
	bus.Stop()

	select {
	case <-bus.StopCh():
	default:
		t.Fatal("stop channel not closed")
	}
	assert.Empty(t, rec.types())
}
