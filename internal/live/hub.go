package live

import (
	"context"
	"log"
	"sync"
	"time"

	"asset-monitor-backend/internal/model"
)

// Mirror forwards events to an external channel.
type Mirror interface {
	Publish(ctx context.Context, ev model.Event) error
}

const mirrorTimeout = 2 * time.Second

// Hub broadcasts events to in-process subscribers. A subscriber that cannot
// keep up misses events rather than slowing the publisher. The mirror is fed
// from its own queue, so a stalled mirror drops events instead of blocking.
type Hub struct {
	mu         sync.RWMutex
	subs       map[int]chan model.Event
	nextID     int
	bufferSize int

	mirror      Mirror
	mirrorQueue chan model.Event
	mirrorDone  chan struct{}
	closed      bool
}

// NewHub creates a hub. mirror may be nil.
func NewHub(bufferSize int, mirror Mirror) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	h := &Hub{
		subs:       make(map[int]chan model.Event),
		bufferSize: bufferSize,
		mirror:     mirror,
	}
	if mirror != nil {
		h.mirrorQueue = make(chan model.Event, bufferSize)
		h.mirrorDone = make(chan struct{})
		go h.runMirror()
	}
	return h
}

func (h *Hub) runMirror() {
	defer close(h.mirrorDone)
	for ev := range h.mirrorQueue {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		if err := h.mirror.Publish(ctx, ev); err != nil {
			log.Printf("Error mirroring event %d for asset %s: %v", ev.ID, ev.AssetID, err)
		}
		cancel()
	}
}

// Close stops the mirror worker after it drains queued events. Events
// published afterwards still reach subscribers but are not mirrored.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed || h.mirrorQueue == nil {
		h.closed = true
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.mirrorQueue)
	h.mu.Unlock()
	<-h.mirrorDone
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan model.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan model.Event, h.bufferSize)
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish delivers ev to every subscriber and queues it for the mirror, if
// one is configured. It never blocks.
func (h *Hub) Publish(ev model.Event) {
	h.mu.RLock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			log.Printf("Warning: live subscriber %d is slow, dropping event %d", id, ev.ID)
		}
	}
	if h.mirrorQueue != nil && !h.closed {
		select {
		case h.mirrorQueue <- ev:
		default:
			log.Printf("Warning: mirror queue is full, dropping event %d", ev.ID)
		}
	}
	h.mu.RUnlock()
}
