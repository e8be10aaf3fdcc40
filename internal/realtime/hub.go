// Package realtime fans occupancy events out to websocket subscribers.
package realtime

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nando3d2000/parking-project-backend/internal/metrics"
)

// Room is the single logical channel every subscriber joins.
const Room = "parking-updates"

const defaultBufferSize = 256

// Subscription is one subscriber's queue. Messages is closed when the hub drops
// the subscriber or the subscription is closed.
type Subscription struct {
	ID  string
	hub *Hub
	ch  chan []byte
}

func (s *Subscription) Messages() <-chan []byte {
	return s.ch
}

// Close leaves the room. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s, false)
}

// Hub is the set of subscribers of Room. Broadcast never blocks: a subscriber
// whose buffer is full is disconnected.
type Hub struct {
	mu         sync.RWMutex
	subs       map[*Subscription]struct{}
	bufferSize int
	closed     bool

	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewHub(bufferSize int, m *metrics.Metrics, log zerolog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Hub{
		subs:       make(map[*Subscription]struct{}),
		bufferSize: bufferSize,
		metrics:    m,
		log:        log.With().Str("component", "realtime_hub").Str("room", Room).Logger(),
	}
}

// Subscribe joins the room. It returns nil once the hub is closed.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}

	sub := &Subscription{ID: uuid.NewString(), hub: h, ch: make(chan []byte, h.bufferSize)}
	h.subs[sub] = struct{}{}
	h.metrics.SetWebSocketClients(len(h.subs))
	h.log.Info().Str("subscriber", sub.ID).Int("total", len(h.subs)).Msg("subscriber joined")
	return sub
}

// Broadcast enqueues msg for every subscriber.
func (h *Hub) Broadcast(msg []byte) {
	var slow []*Subscription

	h.mu.RLock()
	for sub := range h.subs {
		select {
		case sub.ch <- msg:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.remove(sub, true)
	}
}

// Count returns the number of current subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
	h.metrics.SetWebSocketClients(0)
}

// remove closes the channel under the write lock, so it never races a send.
func (h *Hub) remove(sub *Subscription, dropped bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
	h.metrics.SetWebSocketClients(len(h.subs))

	if dropped {
		h.metrics.ObserveDroppedSubscriber()
		h.log.Warn().Str("subscriber", sub.ID).Msg("subscriber too slow, disconnected")
		return
	}
	h.log.Info().Str("subscriber", sub.ID).Int("total", len(h.subs)).Msg("subscriber left")
}
