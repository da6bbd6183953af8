package v1

import (
	"sync"

	"servicecatalog-cron/models"
)

// EventHub fans executed intents out to subscribers. Slow subscribers
// lose events instead of blocking enforcement.
type EventHub struct {
	mu     sync.Mutex
	subs   map[int]chan models.Intent
	nextID int
}

func NewEventHub() *EventHub {
	return &EventHub{subs: map[int]chan models.Intent{}}
}

// Subscribe returns a channel of intents and a function that ends the subscription.
func (h *EventHub) Subscribe(buffer int) (<-chan models.Intent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan models.Intent, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *EventHub) Publish(intent models.Intent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- intent:
		default:
		}
	}
}
