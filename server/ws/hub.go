// Package ws implements a Server-Sent Events (SSE) hub for live loop events.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/GoCodeAlone/pawl/comms"
)

const clientBuffer = 64

// client represents a single SSE connection.
type client struct {
	ch chan []byte
}

// Hub manages SSE client connections and broadcasts loop events to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	logger  *slog.Logger
}

// NewHub creates a Hub ready to accept connections.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger,
	}
}

// Attach forwards every event published on bus to connected clients and
// returns the unsubscribe func.
func (h *Hub) Attach(bus comms.Bus) func() {
	return bus.Subscribe(func(_ context.Context, ev *comms.Event) error {
		h.Broadcast(ev)
		return nil
	})
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends ev to all connected clients. Slow clients miss events.
func (h *Hub) Broadcast(ev *comms.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("hub broadcast marshal", slog.Any("err", err))
		return
	}
	// json.Marshal escapes newlines, so one data line holds the event.
	frame := fmt.Appendf(nil, "event: %s\ndata: %s\n\n", ev.Type, data)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.ch <- frame:
		default:
		}
	}
}

// ServeSSE streams events to one client until its request ends.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	c := &client{ch: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
	}()

	fmt.Fprint(w, "event: connected\ndata: {}\n\n") //nolint:errcheck
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame := <-c.ch:
			w.Write(frame) //nolint:errcheck
			flusher.Flush()
		}
	}
}
