package websocket

import (
	"sync"

	"github.com/rs/zerolog"
)

// Broadcaster interface for broadcasting events to WebSocket clients.
// This interface enables future Redis adapter implementation for horizontal scaling.
type Broadcaster interface {
	Broadcast(userID, projectID, jobID string, event *WSEvent)
}

// broadcastMsg represents a message to be broadcast to clients
type broadcastMsg struct {
	userID    string
	projectID string
	jobID     string
	event     *WSEvent
}

// Hub manages WebSocket connections and broadcasting events to clients.
// It implements the Broadcaster interface.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Channel for registering clients
	register chan *Client

	// Channel for unregistering clients
	unregister chan *Client

	// Channel for broadcasting events
	broadcast chan *broadcastMsg

	// Subscriptions indexes for fast lookup
	byUserID    map[string]map[*Client]bool
	byProjectID map[string]map[*Client]bool
	byJobID     map[string]map[*Client]bool

	logger *zerolog.Logger
	mu     sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub(logger *zerolog.Logger) *Hub {
	return &Hub{
		clients:       make(map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		broadcast:     make(chan *broadcastMsg, 256),
		byUserID:    make(map[string]map[*Client]bool),
		byProjectID: make(map[string]map[*Client]bool),
		byJobID:     make(map[string]map[*Client]bool),
		logger:      logger,
	}
}

// Run starts the hub's main event loop.
// This should be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.broadcastEvent(msg)
		}
	}
}

// registerClient adds a client to the hub
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true

	// Index by user ID
	if client.userID != "" {
		if h.byUserID[client.userID] == nil {
			h.byUserID[client.userID] = make(map[*Client]bool)
		}
		h.byUserID[client.userID][client] = true
	}

	h.logger.Debug().
		Str("client_id", client.id).
		Str("user_id", client.userID).
		Int("total_clients", len(h.clients)).
		Msg("client registered")
}

// unregisterClient removes a client from the hub
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}

	delete(h.clients, client)
	close(client.send)

	// Remove from user index
	if client.userID != "" {
		if clients, ok := h.byUserID[client.userID]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.byUserID, client.userID)
			}
		}
	}

	// Remove from subscription indexes
	client.subs.mu.RLock()
	for wfID := range client.subs.projects {
		if clients, ok := h.byProjectID[wfID]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.byProjectID, wfID)
			}
		}
	}
	for execID := range client.subs.jobs {
		if clients, ok := h.byJobID[execID]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.byJobID, execID)
			}
		}
	}
	client.subs.mu.RUnlock()

	h.logger.Debug().
		Str("client_id", client.id).
		Str("user_id", client.userID).
		Int("total_clients", len(h.clients)).
		Msg("client unregistered")
}

// Broadcast sends an event to relevant clients.
// Implements the Broadcaster interface.
func (h *Hub) Broadcast(userID, projectID, jobID string, event *WSEvent) {
	h.broadcast <- &broadcastMsg{
		userID:    userID,
		projectID: projectID,
		jobID:     jobID,
		event:     event,
	}
}

// broadcastEvent sends an event to all matching clients
func (h *Hub) broadcastEvent(msg *broadcastMsg) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// Collect target clients
	targets := make(map[*Client]bool)

	// If userID is specified, only send to that user's clients
	if msg.userID != "" {
		if clients, ok := h.byUserID[msg.userID]; ok {
			for client := range clients {
				if client.shouldReceive(msg.projectID, msg.jobID) {
					targets[client] = true
				}
			}
		}
	} else {
		// Send to all clients that match the subscription
		// First check job subscriptions (most specific)
		if msg.jobID != "" {
			if clients, ok := h.byJobID[msg.jobID]; ok {
				for client := range clients {
					targets[client] = true
				}
			}
		}

		// Then check project subscriptions
		if msg.projectID != "" {
			if clients, ok := h.byProjectID[msg.projectID]; ok {
				for client := range clients {
					targets[client] = true
				}
			}
		}
	}

	// Send to all target clients
	for client := range targets {
		select {
		case client.send <- msg.event:
		default:
			// Client send buffer full, skip this message
			h.logger.Warn().
				Str("client_id", client.id).
				Str("event_type", msg.event.Type).
				Msg("client buffer full, dropping message")
		}
	}
}

// Subscribe adds a subscription for a client
func (h *Hub) Subscribe(client *Client, projectID, jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.subs.mu.Lock()
	defer client.subs.mu.Unlock()

	if projectID != "" {
		client.subs.projects[projectID] = true
		if h.byProjectID[projectID] == nil {
			h.byProjectID[projectID] = make(map[*Client]bool)
		}
		h.byProjectID[projectID][client] = true

		h.logger.Debug().
			Str("client_id", client.id).
			Str("project_id", projectID).
			Msg("client subscribed to project")
	}

	if jobID != "" {
		client.subs.jobs[jobID] = true
		if h.byJobID[jobID] == nil {
			h.byJobID[jobID] = make(map[*Client]bool)
		}
		h.byJobID[jobID][client] = true

		h.logger.Debug().
			Str("client_id", client.id).
			Str("job_id", jobID).
			Msg("client subscribed to job")
	}
}

// Unsubscribe removes a subscription for a client
func (h *Hub) Unsubscribe(client *Client, projectID, jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.subs.mu.Lock()
	defer client.subs.mu.Unlock()

	if projectID != "" {
		delete(client.subs.projects, projectID)
		if clients, ok := h.byProjectID[projectID]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.byProjectID, projectID)
			}
		}

		h.logger.Debug().
			Str("client_id", client.id).
			Str("project_id", projectID).
			Msg("client unsubscribed from project")
	}

	if jobID != "" {
		delete(client.subs.jobs, jobID)
		if clients, ok := h.byJobID[jobID]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.byJobID, jobID)
			}
		}

		h.logger.Debug().
			Str("client_id", client.id).
			Str("job_id", jobID).
			Msg("client unsubscribed from job")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
