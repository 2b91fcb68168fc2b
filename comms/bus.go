package comms

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryBus is a thread-safe in-process event bus. Handlers run
// synchronously on the publishing goroutine, outside the bus lock.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers []handlerEntry
	nextID   int
	history  []*Event
	maxHist  int
}

type handlerEntry struct {
	id      int
	handler Handler
}

// NewInMemoryBus creates an InMemoryBus with a 1000-event history cap.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{maxHist: 1000}
}

// Publish records ev in the history and hands it to every subscriber.
func (b *InMemoryBus) Publish(ctx context.Context, ev *Event) error {
	b.mu.Lock()
	b.history = append(b.history, ev)
	if len(b.history) > b.maxHist {
		b.history = b.history[len(b.history)-b.maxHist:]
	}
	targets := make([]Handler, 0, len(b.handlers))
	for _, e := range b.handlers {
		targets = append(targets, e.handler)
	}
	b.mu.Unlock()

	var errs []error
	for _, h := range targets {
		if err := h(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("publish %s: %d handler error(s): %w", ev.Type, len(errs), errs[0])
	}
	return nil
}

// Subscribe registers handler. The returned function unsubscribes it.
func (b *InMemoryBus) Subscribe(handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, handlerEntry{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		filtered := b.handlers[:0]
		for _, e := range b.handlers {
			if e.id != id {
				filtered = append(filtered, e)
			}
		}
		b.handlers = filtered
	}
}

// History returns the most recent limit events in chronological order.
func (b *InMemoryBus) History(limit int) ([]*Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	start := 0
	if limit > 0 && len(b.history) > limit {
		start = len(b.history) - limit
	}
	out := make([]*Event, len(b.history)-start)
	copy(out, b.history[start:])
	return out, nil
}
