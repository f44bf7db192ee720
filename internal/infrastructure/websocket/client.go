package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// Size of the send channel buffer
	sendBufferSize = 64
)

// Subscriptions tracks what a client is subscribed to
type Subscriptions struct {
	projects map[string]bool // project_id -> subscribed
	jobs     map[string]bool // job_id -> subscribed
	mu       sync.RWMutex
}

// NewSubscriptions creates a new Subscriptions instance
func NewSubscriptions() *Subscriptions {
	return &Subscriptions{
		projects: make(map[string]bool),
		jobs:     make(map[string]bool),
	}
}

// Client represents a WebSocket client connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan *WSEvent

	id     string
	userID string
	subs   *Subscriptions
}

// NewClient creates a new Client instance
func NewClient(id, userID string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan *WSEvent, sendBufferSize),
		id:     id,
		userID: userID,
		subs:   NewSubscriptions(),
	}
}

// shouldReceive checks if the client should receive an event based on subscriptions
func (c *Client) shouldReceive(projectID, jobID string) bool {
	c.subs.mu.RLock()
	defer c.subs.mu.RUnlock()

	// Check job subscription (most specific)
	if jobID != "" {
		if _, ok := c.subs.jobs[jobID]; ok {
			return true
		}
	}

	// Check project subscription
	if projectID != "" {
		if _, ok := c.subs.projects[projectID]; ok {
			return true
		}
	}

	return false
}

// readPump pumps messages from the WebSocket connection to the hub.
// It reads commands from the client and processes them.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn().
					Str("client_id", c.id).
					Err(err).
					Msg("websocket unexpected close")
			}
			break
		}

		var cmd WSCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.sendResponse(NewErrorResponse("error", "invalid command format"))
			continue
		}

		c.handleCommand(&cmd)
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
// It sends events to the client.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel was closed
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.writeJSON(event); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleCommand processes a command from the client
func (c *Client) handleCommand(cmd *WSCommand) {
	switch cmd.Action {
	case CmdSubscribe:
		c.handleSubscribe(cmd)
	case CmdUnsubscribe:
		c.handleUnsubscribe(cmd)
	case CmdCancel:
		c.handleCancel(cmd)
	default:
		c.sendResponse(NewErrorResponse("error", "unknown command: "+cmd.Action))
	}
}

// handleSubscribe processes a subscribe command
func (c *Client) handleSubscribe(cmd *WSCommand) {
	if cmd.ProjectID == "" && cmd.JobID == "" {
		c.sendResponse(NewErrorResponse(CmdSubscribe, "project_id or job_id required"))
		return
	}

	c.hub.Subscribe(c, cmd.ProjectID, cmd.JobID)

	msg := "subscribed"
	if cmd.JobID != "" {
		msg = "subscribed to job: " + cmd.JobID
	} else if cmd.ProjectID != "" {
		msg = "subscribed to project: " + cmd.ProjectID
	}

	c.sendResponse(NewSuccessResponse(CmdSubscribe, msg))
}

// handleUnsubscribe processes an unsubscribe command
func (c *Client) handleUnsubscribe(cmd *WSCommand) {
	if cmd.ProjectID == "" && cmd.JobID == "" {
		c.sendResponse(NewErrorResponse(CmdUnsubscribe, "project_id or job_id required"))
		return
	}

	c.hub.Unsubscribe(c, cmd.ProjectID, cmd.JobID)

	msg := "unsubscribed"
	if cmd.JobID != "" {
		msg = "unsubscribed from job: " + cmd.JobID
	} else if cmd.ProjectID != "" {
		msg = "unsubscribed from project: " + cmd.ProjectID
	}

	c.sendResponse(NewSuccessResponse(CmdUnsubscribe, msg))
}

// handleCancel processes a cancel command (placeholder for future implementation)
func (c *Client) handleCancel(cmd *WSCommand) {
	if cmd.JobID == "" {
		c.sendResponse(NewErrorResponse(CmdCancel, "job_id required"))
		return
	}

	// TODO: wire to jobmanager.RequestCancel once job cancellation lands

	c.sendResponse(NewErrorResponse(CmdCancel, "cancel not implemented yet"))
}

// sendResponse sends a response to the client
func (c *Client) sendResponse(resp *WSResponse) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.writeJSON(resp)
}

// writeJSON writes a JSON message to the WebSocket connection
func (c *Client) writeJSON(v interface{}) error {
	return c.conn.WriteJSON(v)
}
