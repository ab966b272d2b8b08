// Serplens - Search Performance Analytics Dashboard
// Copyright 2026 A. Kuzmin (avkuzmin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avkuzmin/serplens

// Package websocket streams live status to the dashboard: preload
// progress lines and data-update state changes. The hub owns the
// client set and fans broadcasts out to every connection.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/avkuzmin/serplens/internal/logging"
)

// Message types sent to the dashboard.
const (
	MessageTypePing             = "ping"
	MessageTypePong             = "pong"
	MessageTypePreloadProgress  = "preload_progress"
	MessageTypePreloadCompleted = "preload_completed"
	MessageTypeUpdateStatus     = "update_status"
)

// registrationBacklog bounds how many registrations and
// unregistrations may queue while the hub service is restarting.
const registrationBacklog = 16

// Message is one websocket frame.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub maintains the set of connected dashboard clients and broadcasts
// status messages to them. Construct with NewHub and run Serve under a
// supervisor.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client

	// lastByType replays the most recent message of each type to
	// clients that connect mid-operation, so a freshly opened
	// dashboard sees the current preload state immediately.
	lastByType map[string]Message

	mu sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		// Buffered so an upgrade handler never blocks on a hub that is
		// mid-restart; Serve drains the backlog when it resumes.
		Register:   make(chan *Client, registrationBacklog),
		Unregister: make(chan *Client, registrationBacklog),
		lastByType: make(map[string]Message),
	}
}

// Serve implements suture.Service: it processes client lifecycle and
// broadcast events until the context is canceled, then closes every
// client.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			logging.Info().Str("component", "websocket-hub").Msg("websocket hub stopped")
			return ctx.Err()

		case client := <-h.Register:
			h.addClient(client)

		case client := <-h.Unregister:
			h.removeClient(client)

		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

// String implements fmt.Stringer for supervisor logs.
func (h *Hub) String() string { return "websocket-hub" }

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	replay := make([]Message, 0, len(h.lastByType))
	for _, msg := range h.lastByType {
		replay = append(replay, msg)
	}
	total := len(h.clients)
	h.mu.Unlock()

	sort.Slice(replay, func(i, j int) bool { return replay[i].Type < replay[j].Type })
	for _, msg := range replay {
		select {
		case client.send <- msg:
		default:
		}
	}
	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

// BroadcastJSON queues a typed message for every connected client.
// Non-blocking: when the broadcast queue is full the message is
// dropped, never the caller.
func (h *Hub) BroadcastJSON(messageType string, data interface{}) {
	message := Message{Type: messageType, Data: data}
	select {
	case h.broadcast <- message:
	default:
		logging.Warn().Str("message_type", messageType).Msg("broadcast channel full, dropping message")
	}
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcastToClients delivers one message to every client in a stable
// order, sorted by client ID. A client whose send queue is full is
// dropped; a dashboard that cannot keep up with status lines is gone
// anyway.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastByType[message.Type] = message

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			toRemove = append(toRemove, client)
		}
	}
	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}
