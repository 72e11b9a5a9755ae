// Package websocket streams engine events (queue runs, log entries, task
// transitions, conflicts) to connected admin dashboards.
package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Event is the envelope every message to a dashboard uses
type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// Hub maintains the set of active clients and broadcasts events
type Hub struct {
	// Registered clients map: ClientID -> Client
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan Event
	stop       chan struct{}

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Event, 256),
		stop:       make(chan struct{}),
		clients:    make(map[string]*Client),
	}
}

// Run starts the hub's main loop. It returns after Close.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			log.Printf("📡 Dashboard connected: %s", client.ID)

		case client := <-h.unregister:
			h.mu.Lock()
			if cur, ok := h.clients[client.ID]; ok && cur == client {
				delete(h.clients, client.ID)
				close(client.send)
				log.Printf("📴 Dashboard disconnected: %s", client.ID)
			}
			h.mu.Unlock()

		case ev := <-h.broadcast:
			h.fanOut(ev)

		case <-h.stop:
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Close stops Run and disconnects every client
func (h *Hub) Close() {
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
}

// Publish queues an event for every subscribed client. It never blocks the
// caller: when the hub is saturated the event is dropped.
func (h *Hub) Publish(eventType string, data interface{}) {
	ev := Event{Type: eventType, Data: data, Timestamp: time.Now().Unix()}
	select {
	case h.broadcast <- ev:
	default:
		log.Printf("⚠️ WS hub: dropping %s event, broadcast buffer full", eventType)
	}
}

// ClientCount returns the number of connected dashboards
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) fanOut(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		log.Printf("Error marshaling %s event: %v", ev.Type, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !client.wants(ev.Type) {
			continue
		}
		select {
		case client.send <- msg:
		default:
			// Buffer full or client dead
		}
	}
}
