package events

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/forge-labs/forge/internal/observability"
)

// Publisher is the pipeline-facing side of the fan-out.
type Publisher interface {
	Publish(e Event)
}

// NopPublisher drops everything. Used by tests that do not watch events.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}

// Subscription is one topic-scoped event feed. The channel is buffered; a
// subscriber that falls behind loses events rather than blocking a pipeline.
type Subscription struct {
	Topic string
	C     <-chan Event

	hub *Hub
	ch  chan Event
	id  uint64
}

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Hub is the in-process fan-out. Publish never blocks: events to slow or
// absent subscribers are counted as dropped and forgotten.
type Hub struct {
	log    zerolog.Logger
	buffer int

	mu     sync.RWMutex
	subs   map[string]map[uint64]*Subscription
	nextID uint64

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64

	metrics *observability.Registry
}

// WithMetrics attaches the shared metrics registry. Optional.
func (h *Hub) WithMetrics(r *observability.Registry) *Hub {
	h.metrics = r
	return h
}

// NewHub creates a hub whose subscriber channels buffer up to buffer events.
func NewHub(buffer int, logger zerolog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		log:    logger.With().Str("component", "events").Logger(),
		buffer: buffer,
		subs:   make(map[string]map[uint64]*Subscription),
	}
}

var _ Publisher = (*Hub)(nil)

// Subscribe opens a feed for one topic.
func (h *Hub) Subscribe(topic string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	ch := make(chan Event, h.buffer)
	sub := &Subscription{Topic: topic, C: ch, hub: h, ch: ch, id: h.nextID}
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[uint64]*Subscription)
	}
	h.subs[topic][sub.id] = sub
	return sub
}

func (h *Hub) unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group, ok := h.subs[s.Topic]
	if !ok {
		return
	}
	if _, live := group[s.id]; !live {
		return
	}
	delete(group, s.id)
	if len(group) == 0 {
		delete(h.subs, s.Topic)
	}
	close(s.ch)
}

// Publish fans e out to the subscribers of its topic, best effort.
func (h *Hub) Publish(e Event) {
	h.published.Add(1)
	if h.metrics != nil {
		h.metrics.GetCounter("forge_events_published_total").Inc()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs[e.Topic()] {
		select {
		case sub.ch <- e:
			h.delivered.Add(1)
		default:
			h.dropped.Add(1)
			if h.metrics != nil {
				h.metrics.GetCounter("forge_events_dropped_total").Inc()
			}
			h.log.Debug().Str("topic", e.Topic()).Str("kind", e.base().Kind).
				Msg("subscriber behind, event dropped")
		}
	}
}

// HubStats is a point-in-time census of the hub.
type HubStats struct {
	Topics    int   `json:"topics"`
	Published int64 `json:"published"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
}

// Stats returns delivery counters.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	topics := len(h.subs)
	h.mu.RUnlock()
	return HubStats{
		Topics:    topics,
		Published: h.published.Load(),
		Delivered: h.delivered.Load(),
		Dropped:   h.dropped.Load(),
	}
}
