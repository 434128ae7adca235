package server

import (
	"log/slog"
	"sync"

	"github.com/oszuidwest/zwfm-soundgate/internal/types"
)

// clientBuffer is the number of queued messages per WebSocket client.
const clientBuffer = 16

// Hub fans session events out to connected WebSocket clients. A slow client
// loses messages rather than blocking the session controller.
type Hub struct {
	mu      sync.Mutex
	clients map[chan any]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[chan any]struct{})}
}

// Record implements session.EventSink.
func (h *Hub) Record(e types.SessionEvent) {
	h.broadcast(types.EventMessage{Type: "event", Event: e})
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) subscribe() chan any {
	ch := make(chan any, clientBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// unsubscribe removes ch and closes it, which ends the client's writer.
func (h *Hub) unsubscribe(ch chan any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

// broadcast sends msg to every client. Sends happen under the lock so that
// unsubscribe never closes a channel that is being written.
func (h *Hub) broadcast(msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		trySend(ch, msg)
	}
}

// trySend attempts to send a message, logging a warning if the channel is full.
func trySend(send chan<- any, msg any) bool {
	select {
	case send <- msg:
		return true
	default:
		slog.Warn("dropped WebSocket message: client too slow")
		return false
	}
}

// broadcastTo sends msg to a single client if it is still subscribed.
func (h *Hub) broadcastTo(ch chan any, msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		trySend(ch, msg)
	}
}
