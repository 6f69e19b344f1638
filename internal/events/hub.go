// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package events

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeWait is the deadline for a single WebSocket write.
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong before dropping the client.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// clientBuffer is the per-client send queue. When full, events for
	// that client are dropped rather than blocking the emitter.
	clientBuffer = 64
)

// upgrader accepts connections from any origin. The gateway binds to
// loopback only, so the origin check adds nothing here.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub relays events to every connected WebSocket client.
//
// Hub implements Sink. Emit is non-blocking: if the broadcast queue or a
// client's send queue is full the event is dropped for that receiver.
type Hub struct {
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan Event
	done       chan struct{} // closed when Run returns
	log        *zap.Logger
}

// NewHub creates a hub. Call Run before serving connections.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan Event, 256),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run processes registrations and broadcasts until stop is closed. After
// Run returns no further clients are accepted.
func (h *Hub) Run(stop <-chan struct{}) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.log.Debug("event client connected", zap.Int("clients", len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.log.Debug("event client disconnected", zap.Int("clients", len(h.clients)))
			}

		case ev := <-h.broadcast:
			payload, err := json.Marshal(ev)
			if err != nil {
				h.log.Warn("failed to marshal event", zap.String("event", ev.Name), zap.Error(err))
				continue
			}
			for c := range h.clients {
				select {
				case c.send <- payload:
				default:
					// Client is not keeping up. Drop the event for it.
					h.log.Debug("dropping event for slow client", zap.String("event", ev.Name))
				}
			}

		case <-stop:
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return
		}
	}
}

// Emit queues an event for broadcast. Never blocks.
func (h *Hub) Emit(name string, payload any) {
	select {
	case h.broadcast <- Event{Name: name, Payload: payload}:
	default:
		h.log.Debug("event queue full, dropping event", zap.String("event", name))
	}
}

// ServeWS upgrades an HTTP request to a WebSocket event subscription.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{hub: h, conn: conn, send: make(chan []byte, clientBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// release removes a client from the hub, tolerating a hub that has
// already stopped.
func (h *Hub) release(c *wsClient) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// wsClient is one connected GUI observer.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// readPump discards inbound frames; the event channel is one-way. It
// exists to process control frames and detect disconnects.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.release(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump delivers queued events and keepalive pings to the client.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
