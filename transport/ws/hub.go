package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The demo broker is for local development only.
		return true
	},
}

// InboundHandler consumes application payloads published by clients via
// OpSend frames.
type InboundHandler func(destination string, body []byte)

// Hub is the broker-side counterpart of Conn. A single loop owns client
// registration and topic fan-out, so no locking is needed around the
// subscription tables.
type Hub struct {
	inbound InboundHandler

	register   chan *hubClient
	unregister chan *hubClient
	subscribe  chan subChange
	broadcast  chan topicMessage

	clients map[*hubClient]bool
	done    chan struct{}
}

type subChange struct {
	client *hubClient
	topic  string
	add    bool
}

type topicMessage struct {
	topic string
	body  []byte
}

type hubClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	topics map[string]bool // owned by the hub loop
}

// NewHub creates a hub that hands inbound publishes to handler.
func NewHub(handler InboundHandler) *Hub {
	return &Hub{
		inbound:    handler,
		register:   make(chan *hubClient),
		unregister: make(chan *hubClient),
		subscribe:  make(chan subChange),
		broadcast:  make(chan topicMessage, 64),
		clients:    make(map[*hubClient]bool),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's event loop. It returns when Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true

		case client := <-h.unregister:
			if h.clients[client] {
				delete(h.clients, client)
				close(client.send)
			}

		case change := <-h.subscribe:
			if !h.clients[change.client] {
				continue
			}
			if change.add {
				change.client.topics[change.topic] = true
			} else {
				delete(change.client.topics, change.topic)
			}

		case msg := <-h.broadcast:
			frame, err := json.Marshal(Frame{Op: OpMessage, Destination: msg.topic, Body: msg.body})
			if err != nil {
				log.Printf("[hub] marshal broadcast: %v", err)
				continue
			}
			for client := range h.clients {
				if !client.topics[msg.topic] {
					continue
				}
				select {
				case client.send <- frame:
				default:
					// Slow consumer; drop it rather than stall the room.
					delete(h.clients, client)
					close(client.send)
				}
			}
		}
	}
}

// Stop shuts the hub loop down and disconnects every client.
func (h *Hub) Stop() {
	close(h.done)
}

// Broadcast delivers a body to every client subscribed to topic.
func (h *Hub) Broadcast(topic string, body []byte) {
	select {
	case h.broadcast <- topicMessage{topic: topic, body: body}:
	case <-h.done:
	}
}

// ServeWS upgrades an HTTP request into a hub connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[hub] upgrade failed: %v", err)
		return
	}

	client := &hubClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 64),
		topics: make(map[string]bool),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump pumps frames from the client into the hub.
func (c *hubClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[hub] read error: %v", err)
			}
			return
		}
		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Printf("[hub] dropping unparseable frame: %v", err)
			continue
		}
		switch frame.Op {
		case OpSubscribe:
			c.hub.subscribe <- subChange{client: c, topic: frame.Destination, add: true}
		case OpUnsubscribe:
			c.hub.subscribe <- subChange{client: c, topic: frame.Destination, add: false}
		case OpSend:
			if c.hub.inbound != nil {
				c.hub.inbound(frame.Destination, frame.Body)
			}
		}
	}
}

// writePump pumps frames from the hub to the client and keeps the
// connection alive with pings.
func (c *hubClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
