package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"progresskit/core"
)

type DispatchMode int

const (
	DispatchSync DispatchMode = iota
	DispatchAsync
)

const (
	defaultQueueSize    = 2048
	defaultAsyncWorkers = 4
)

type subscription struct {
	id int64
	fn func(context.Context, core.Event)
}

// EventBus provides thread-safe pub/sub with sync and async dispatch.
// Events are only published after the state they describe has been committed.
type EventBus struct {
	mode    DispatchMode
	mu      sync.RWMutex
	subs    map[core.EventType]map[int64]subscription
	nextID  int64
	queue   chan core.Event
	wg      sync.WaitGroup
	closed  atomic.Bool
	dropped atomic.Int64
	once    sync.Once
	log     *slog.Logger
}

func NewEventBus(mode DispatchMode) *EventBus {
	eb := &EventBus{
		mode:  mode,
		subs:  make(map[core.EventType]map[int64]subscription),
		queue: make(chan core.Event, defaultQueueSize),
		log:   slog.Default(),
	}
	if mode == DispatchAsync {
		eb.startWorkers(defaultAsyncWorkers)
	}
	return eb
}

// SetLogger replaces the logger used for dropped events and handler panics.
func (e *EventBus) SetLogger(l *slog.Logger) {
	if l != nil {
		e.log = l
	}
}

func (e *EventBus) startWorkers(n int) {
	for i := 0; i < n; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for ev := range e.queue {
				e.dispatchSync(context.Background(), ev)
			}
		}()
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (e *EventBus) Close() {
	e.once.Do(func() {
		e.closed.Store(true)
		e.mu.Lock()
		close(e.queue)
		e.mu.Unlock()
		e.wg.Wait()
	})
}

// Dropped reports how many async events were discarded because the queue was full.
func (e *EventBus) Dropped() int64 { return e.dropped.Load() }

// Subscribe registers a handler for an event type. Returns unsubscribe func.
func (e *EventBus) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	if e.subs[typ] == nil {
		e.subs[typ] = make(map[int64]subscription)
	}
	e.subs[typ][id] = subscription{id: id, fn: handler}
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if m := e.subs[typ]; m != nil {
			delete(m, id)
		}
	}
}

// SubscribeAll registers handler for every event type.
func (e *EventBus) SubscribeAll(handler func(context.Context, core.Event)) func() {
	types := core.EventTypes()
	unsubs := make([]func(), 0, len(types))
	for _, t := range types {
		unsubs = append(unsubs, e.Subscribe(t, handler))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Publish sends an event to subscribers.
func (e *EventBus) Publish(ctx context.Context, ev core.Event) {
	if e.closed.Load() {
		return
	}
	if e.mode == DispatchAsync {
		e.mu.RLock()
		defer e.mu.RUnlock()
		if e.closed.Load() {
			return
		}
		select {
		case e.queue <- ev:
		default:
			e.dropped.Add(1)
			e.log.Warn("event queue full, dropping event", "type", ev.Type, "learner", ev.LearnerID)
		}
		return
	}
	e.dispatchSync(ctx, ev)
}

func (e *EventBus) dispatchSync(ctx context.Context, ev core.Event) {
	e.mu.RLock()
	subs := e.subs[ev.Type]
	// copy to avoid holding lock during callbacks
	handlers := make([]func(context.Context, core.Event), 0, len(subs))
	for _, s := range subs {
		handlers = append(handlers, s.fn)
	}
	e.mu.RUnlock()
	for _, h := range handlers {
		e.call(ctx, h, ev)
	}
}

func (e *EventBus) call(ctx context.Context, h func(context.Context, core.Event), ev core.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("event handler panicked", "type", ev.Type, "panic", r)
		}
	}()
	h(ctx, ev)
}
