package campaign

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/model"
)

// Hub fans one event stream out to any number of subscribers. A subscriber
// that is not keeping up misses events; the publisher never blocks.
type Hub struct {
	mu     sync.RWMutex
	subs   map[chan model.Event]struct{}
	closed bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan model.Event]struct{})}
}

// Run publishes events until the channel is closed or ctx is done, then
// closes every subscriber.
func (h *Hub) Run(ctx context.Context, events <-chan model.Event) {
	defer h.close()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			h.Publish(e)
		}
	}
}

// Subscribe registers a subscriber with the given buffer. The returned func
// unsubscribes and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(buffer int) (<-chan model.Event, func()) {
	ch := make(chan model.Event, buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
}

// Publish delivers e to every subscriber with room for it.
func (h *Hub) Publish(e model.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
			zap.L().Debug("dropped event for slow subscriber",
				zap.String("campaign_id", e.CampaignID()),
				zap.String("kind", e.Kind()),
			)
		}
	}
}

func (h *Hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
