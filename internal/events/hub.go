package events

import (
	"context"
	"sync"

	"ugcserver/internal/domain"
	"ugcserver/internal/infra"
)

// Hub is the in-process Bus.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*hubSub]struct{}
	buffer int
	logger *infra.Logger
}

type hubSub struct {
	ch chan domain.ProgressEvent
}

// NewHub returns an empty hub. buffer <= 0 uses the default channel size.
func NewHub(buffer int, logger *infra.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:   make(map[string]map[*hubSub]struct{}),
		buffer: buffer,
		logger: infra.LoggerOrDiscard(logger),
	}
}

func (h *Hub) Subscribe(ctx context.Context, key string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &hubSub{ch: make(chan domain.ProgressEvent, h.buffer)}

	h.mu.Lock()
	set, ok := h.subs[key]
	if !ok {
		set = make(map[*hubSub]struct{})
		h.subs[key] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	s := newSubscription(sub.ch, func() { h.remove(key, sub) })
	s.closeOn(ctx)
	return s, nil
}

func (h *Hub) remove(key string, sub *hubSub) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[key]
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, key)
	}
	close(sub.ch)
}

// Publish fans ev out to current subscribers of key. Full subscriber buffers
// drop the event.
func (h *Hub) Publish(_ context.Context, key string, ev domain.ProgressEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[key] {
		select {
		case sub.ch <- ev:
		default:
			h.logger.Debug().Str("key", key).Str("step", string(ev.Step)).Msg("events: subscriber buffer full, dropping")
		}
	}
	return nil
}

// Subscribers returns the number of live subscribers for key.
func (h *Hub) Subscribers(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[key])
}

var _ Bus = (*Hub)(nil)
