// Package feed streams status events to websocket clients, one channel per
// chat.
package feed

import (
	"context"
	"sync"

	"github.com/debridrelay/debridrelay/internal/metrics"
	"github.com/debridrelay/debridrelay/internal/notify"
)

// Hub maintains the set of active clients and broadcasts events to them.
type Hub struct {
	// Registered clients by chat ID
	clients map[int64]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan notify.Event
	done       chan struct{}

	mu sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[int64]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan notify.Event, 64),
		done:       make(chan struct{}),
	}
}

// Run is the hub's main loop. It closes every client when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for chatID, clients := range h.clients {
				for client := range clients {
					h.dropLocked(client)
				}
				delete(h.clients, chatID)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.chatID] == nil {
				h.clients[client.chatID] = make(map[*Client]bool)
			}
			h.clients[client.chatID][client] = true
			h.mu.Unlock()
			metrics.Default().IncWSConnections()

		case client := <-h.unregister:
			h.mu.Lock()
			h.dropLocked(client)
			h.mu.Unlock()

		case ev := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[ev.ChatID] {
				select {
				case client.send <- ev:
				default:
					// Slow consumer
					h.dropLocked(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) dropLocked(client *Client) {
	clients, ok := h.clients[client.chatID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)
	metrics.Default().DecWSConnections()
	if len(clients) == 0 {
		delete(h.clients, client.chatID)
	}
}

// Publish hands ev to the hub. It implements notify.Publisher.
func (h *Hub) Publish(ctx context.Context, ev notify.Event) error {
	select {
	case h.broadcast <- ev:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register adds client; it reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes client. It is a no-op once the hub has stopped.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients for a chat.
func (h *Hub) ClientCount(chatID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[chatID])
}

// TotalClients returns the total number of connected clients.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, clients := range h.clients {
		count += len(clients)
	}
	return count
}
