// Package feed fans reservation change events out to live admin views.
package feed

import (
	"context"
	"sync"

	"github.com/avstrong/innkeeper/internal/booking"
	"github.com/avstrong/innkeeper/internal/logger"
)

const DefaultBuffer = 64

// Hub delivers every published event to every current subscriber. A
// subscriber whose buffer is full misses the event; writers never wait.
type Hub struct {
	mu     sync.RWMutex
	l      *logger.Logger
	subs   map[int]chan *booking.ChangeEvent
	nextID int
	buffer int
}

func NewHub(l *logger.Logger, buffer int) *Hub {
	if buffer < 1 {
		buffer = DefaultBuffer
	}

	//nolint:exhaustruct
	return &Hub{
		l:      l,
		subs:   make(map[int]chan *booking.ChangeEvent),
		buffer: buffer,
	}
}

// Subscribe returns a channel that is closed once ctx is done.
func (h *Hub) Subscribe(ctx context.Context) <-chan *booking.ChangeEvent {
	ch := make(chan *booking.ChangeEvent, h.buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()

		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

func (h *Hub) Publish(_ context.Context, event *booking.ChangeEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			h.l.LogWarn("Feed subscriber %v is too slow, dropped event %v", id, event.ID)
		}
	}

	return nil
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subs)
}
