package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kernos-ai/kernos/internal/host"
)

// Message is the JSON envelope exchanged with WebSocket clients.
type Message struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type outboundEvent struct {
	sessionID string
	payload   []byte
}

// Client is one connected WebSocket consumer.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu       sync.RWMutex
	watching map[string]bool // empty set means every session
}

// wants reports whether the client's watch filter admits the session.
func (c *Client) wants(sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.watching) == 0 {
		return true
	}
	return c.watching[sessionID]
}

func (c *Client) watch(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watching[sessionID] = true
}

func (c *Client) unwatch(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.watching, sessionID)
}

// Hub fans kernel events out to WebSocket clients.
type Hub struct {
	manager    *host.Manager
	clients    map[*Client]bool
	broadcast  chan outboundEvent
	register   chan *Client
	unregister chan *Client
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
}

func newHub(manager *host.Manager) *Hub {
	return &Hub{
		manager:    manager,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outboundEvent, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return originAllowed(origin)
			},
		},
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run drives the hub event loop until the context ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

			h.sendSessionsList(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				if !client.wants(event.sessionID) {
					continue
				}
				select {
				case client.send <- event.payload:
				default:
					// Client's send channel is full, skip.
				}
			}
			h.mu.RUnlock()

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// HandleWebSocket upgrades the connection and registers the client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logf("websocket upgrade error: %v", err)
		return
	}

	client := &Client{
		id:       uuid.NewString(),
		conn:     conn,
		send:     make(chan []byte, 256),
		hub:      h,
		watching: make(map[string]bool),
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// BroadcastEvent fans one kernel event out to interested clients.
func (h *Hub) BroadcastEvent(eventType, sessionID string, data any) {
	msg := Message{
		Type:      eventType,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		logf("marshal %s event: %v", eventType, err)
		return
	}

	select {
	case h.broadcast <- outboundEvent{sessionID: sessionID, payload: payload}:
	default:
		// Hub loop is saturated, drop the event.
	}
}

// sendSessionsList pushes the current session inventory to one client.
func (h *Hub) sendSessionsList(client *Client) {
	sessions := h.manager.Sessions()
	dto := make([]sessionDTO, 0, len(sessions))
	for _, s := range sessions {
		dto = append(dto, toSessionDTO(s))
	}

	msg := Message{
		Type:      "sessions_list",
		Data:      dto,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		logf("marshal sessions list: %v", err)
		return
	}

	select {
	case client.send <- payload:
	default:
	}
}

// readPump consumes client messages: watch/unwatch filters and list requests.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logf("websocket read error: %v", err)
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("malformed message")
			continue
		}

		switch msg.Type {
		case "watch":
			if msg.SessionID == "" {
				c.sendError("watch message missing sessionId")
				continue
			}
			c.watch(msg.SessionID)
		case "unwatch":
			if msg.SessionID == "" {
				c.sendError("unwatch message missing sessionId")
				continue
			}
			c.unwatch(msg.SessionID)
		case "list":
			c.hub.sendSessionsList(c)
		default:
			c.sendError("unknown message type " + msg.Type)
		}
	}
}

// writePump writes outbound payloads and keepalive pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendError(errMsg string) {
	msg := Message{
		Type:      "error",
		Data:      errMsg,
		Timestamp: time.Now().UTC(),
	}
	payload, _ := json.Marshal(msg)
	select {
	case c.send <- payload:
	default:
	}
}
