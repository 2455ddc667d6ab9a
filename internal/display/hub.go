// Package display pushes trigger events to stimulus display clients over
// websockets. The display process (typically a fullscreen renderer on the
// projector machine) connects, receives one JSON message per trigger on
// the "trigger" topic, and a final "kill" message when the experiment
// shuts down so it can exit cleanly instead of lingering on a dead socket.
package display

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flylab-data/braidtrigger/internal/trigger"
)

const (
	// TopicTrigger carries one trigger event per message.
	TopicTrigger = "trigger"
	// TopicKill tells clients the experiment is over.
	TopicKill = "kill"

	writeWait      = 2 * time.Second
	clientBacklog  = 8
	maxMessageSize = 512
)

// Message is the wire envelope. Event is present only on the trigger topic.
type Message struct {
	Topic string         `json:"topic"`
	Event *trigger.Event `json:"event,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Display clients live on the lab network; origin checks would only
	// get in the way of the renderer's plain websocket library.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan Message
}

// Hub fans messages out to every connected display client. A client whose
// send backlog fills up is dropped: a stalled renderer must never delay
// the trigger path.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// ServeHTTP makes the hub mountable as a route.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.ServeWS(w, r)
}

// ServeWS upgrades an HTTP request to a websocket and registers the
// client with the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("display: websocket upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan Message, clientBacklog)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("display: client connected from %s (%d connected)", r.RemoteAddr, n)

	go h.writePump(c)
	go h.readPump(c)
}

// writePump serializes all writes for one client.
func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		data, err := json.Marshal(msg)
		if err != nil {
			log.Printf("display: failed to encode message: %v", err)
			continue
		}
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("display: write failed, dropping client: %v", err)
			h.drop(c)
			return
		}
	}
}

// readPump discards inbound frames; its only job is noticing the peer
// going away so the client gets unregistered.
func (h *Hub) readPump(c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c)
			return
		}
	}
}

// drop unregisters a client and closes its send channel, which stops the
// write pump. Safe to call more than once per client.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// Broadcast sends msg to every connected client without blocking. Clients
// that cannot keep up are dropped.
func (h *Hub) Broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			log.Printf("display: client backlog full, dropping client")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// ClientCount reports how many display clients are connected.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close broadcasts the kill topic and disconnects everyone. Further
// ServeWS upgrades are rejected.
func (h *Hub) Close() {
	h.Broadcast(Message{Topic: TopicKill})

	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// RunTriggerFeed consumes trigger events and broadcasts each on the
// trigger topic until the channel closes or ctx is cancelled, then closes
// the hub (which delivers the kill message).
func RunTriggerFeed(ctx context.Context, triggers <-chan trigger.Event, h *Hub) {
	log.Printf("display: trigger feed started")
	defer func() {
		h.Close()
		log.Printf("display: trigger feed stopped")
	}()
	for {
		select {
		case ev, ok := <-triggers:
			if !ok {
				return
			}
			h.Broadcast(Message{Topic: TopicTrigger, Event: &ev})
		case <-ctx.Done():
			return
		}
	}
}
