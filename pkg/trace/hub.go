package trace

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 256

// Hub fans published events out to subscribers. Publishing never blocks:
// a subscriber whose queue is full loses the event and the loss is counted.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	sinks   []*Writer
	buffer  int
	dropped atomic.Uint64
	log     *zap.Logger
}

// Subscription is one consumer of hub events.
type Subscription struct {
	C       <-chan Event
	ch      chan Event
	hub     *Hub
	once    sync.Once
	dropped atomic.Uint64
}

// NewHub creates a hub. A non-positive buffer uses DefaultBuffer.
func NewHub(buffer int, log *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{subs: make(map[*Subscription]struct{}), buffer: buffer, log: log}
}

// Subscribe registers a new consumer. Call Close when done.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan Event, h.buffer)
	s := &Subscription{C: ch, ch: ch, hub: h}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		close(s.ch)
		s.hub.mu.Unlock()
	})
}

// Dropped is the number of events this subscriber missed.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Attach records every published event to w until the returned func is
// called.
func (h *Hub) Attach(w *Writer) (detach func()) {
	h.mu.Lock()
	h.sinks = append(h.sinks, w)
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, s := range h.sinks {
			if s == w {
				h.sinks = append(h.sinks[:i], h.sinks[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers evt to every subscriber and attached writer.
func (h *Hub) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, w := range h.sinks {
		if err := w.Write(evt); err != nil {
			h.log.Warn("trace write failed", zap.String("event", string(evt.Type)), zap.Error(err))
		}
	}
	for s := range h.subs {
		select {
		case s.ch <- evt:
		default:
			s.dropped.Add(1)
			h.dropped.Add(1)
			h.log.Debug("subscriber queue full, event dropped", zap.String("event", string(evt.Type)))
		}
	}
}

// Dropped is the total number of events lost across all subscribers.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
