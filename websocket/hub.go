package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Message is the envelope pushed to clients.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub tracks live connections per user and fans notifications out to them.
// A user may hold several connections, one per open tab or device.
type Hub struct {
	clients    map[uint]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	log        *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[uint]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log.Named("ws"),
	}
}

// Run owns registration until ctx is cancelled, then drops every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			conns, ok := h.clients[client.userID]
			if !ok {
				conns = make(map[*Client]struct{})
				h.clients[client.userID] = conns
			}
			conns[client] = struct{}{}
			h.mu.Unlock()
			h.log.Debug("client registered", zap.Uint("user_id", client.userID), zap.String("role", string(client.role)))

		case client := <-h.unregister:
			h.remove(client)
			h.log.Debug("client unregistered", zap.Uint("user_id", client.userID))

		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for userID, conns := range h.clients {
				for c := range conns {
					close(c.send)
				}
				delete(h.clients, userID)
			}
			h.mu.Unlock()
			return
		}
	}
}

// add and drop hand clients to Run. They give up once the hub has stopped.
func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) drop(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.clients[client.userID]
	if !ok {
		return
	}
	if _, ok := conns[client]; !ok {
		return
	}
	delete(conns, client)
	close(client.send)
	if len(conns) == 0 {
		delete(h.clients, client.userID)
	}
}

// Notify sends an event to every connection of userID. Users that are not
// connected miss the event; slow connections with a full buffer are skipped.
func (h *Hub) Notify(userID uint, event string, data any) {
	if !h.IsUserConnected(userID) {
		h.log.Debug("user offline, notification skipped", zap.Uint("user_id", userID), zap.String("event", event))
		return
	}
	payload, err := json.Marshal(&Message{Type: event, Data: data, Timestamp: time.Now().UTC()})
	if err != nil {
		h.log.Error("failed to encode notification", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[userID] {
		select {
		case c.send <- payload:
		default:
			h.log.Warn("client send buffer full, dropping notification",
				zap.Uint("user_id", userID), zap.String("event", event))
		}
	}
}

// reply queues payload on a single client if it is still registered.
func (h *Hub) reply(c *Client, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.userID][c]; !ok {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

func (h *Hub) IsUserConnected(userID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

