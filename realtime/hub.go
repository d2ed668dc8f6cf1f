package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"progresskit/core"
)

// Filter narrows a subscription. Zero values match everything.
type Filter struct {
	Learner core.LearnerID
	Types   map[core.EventType]bool
}

func (f Filter) match(ev core.Event) bool {
	if f.Learner != "" && f.Learner != ev.LearnerID {
		return false
	}
	if len(f.Types) > 0 && !f.Types[ev.Type] {
		return false
	}
	return true
}

type subscriber struct {
	ch     chan core.Event
	filter Filter
}

// Hub is a simple pub/sub for broadcasting progression events to channels.
// Slow subscribers lose events rather than stall the publisher.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	dropped atomic.Int64
}

func NewHub() *Hub { return &Hub{subs: map[int]subscriber{}} }

func (h *Hub) Subscribe(buffer int) (int, <-chan core.Event) {
	return h.SubscribeFiltered(buffer, Filter{})
}

// SubscribeFiltered registers a channel that only receives events matching f.
func (h *Hub) SubscribeFiltered(buffer int, f Filter) (int, <-chan core.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	ch := make(chan core.Event, buffer)
	h.subs[id] = subscriber{ch: ch, filter: f}
	return id, ch
}

func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(s.ch)
	}
}

// Subscribers reports the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

func (h *Hub) Broadcast(_ context.Context, ev core.Event) {
	// sends happen under the read lock so Unsubscribe cannot close a channel mid-send
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if !s.filter.match(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Source is the subscription side of an event bus.
type Source interface {
	SubscribeAll(handler func(context.Context, core.Event)) func()
}

// Attach forwards every event from src to the hub. The returned func detaches it.
func (h *Hub) Attach(src Source) func() {
	return src.SubscribeAll(h.Broadcast)
}

// MarshalJSON is a helper to convert events to JSON bytes for WebSocket/SSE.
func MarshalJSON(ev core.Event) []byte {
	b, _ := json.Marshal(ev)
	return b
}
