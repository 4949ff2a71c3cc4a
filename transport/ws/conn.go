package ws

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// DefaultReconnectDelay is the fixed pause before redialing after an
	// unexpected disconnect.
	DefaultReconnectDelay = 5 * time.Second
)

var (
	ErrNotConnected = errors.New("transport is not connected")
	ErrClosed       = errors.New("transport is closed")
)

// State is the connection lifecycle stage.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	ReconnectPending
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ReconnectPending:
		return "reconnect_pending"
	default:
		return "unknown"
	}
}

// Handler receives the body of each message delivered for a subscription.
type Handler func(body []byte)

// StateFunc observes connection state changes. err is non-nil when the
// transition was caused by a failure.
type StateFunc func(state State, err error)

// Subscription is an active topic registration on a Conn.
type Subscription struct {
	ID    string
	Topic string
	conn  *Conn
}

// Unsubscribe withdraws the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s.conn != nil {
		s.conn.unsubscribe(s.ID)
	}
}

// Option configures a Conn before its connect loop starts.
type Option func(*Conn)

// WithReconnectDelay fixes the delay between reconnect attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Conn) {
		c.bo = &backoff.Backoff{Min: d, Max: d, Factor: 1}
	}
}

// WithReconnectBackoff grows the reconnect delay from min to max.
func WithReconnectBackoff(min, max time.Duration, factor float64) Option {
	return func(c *Conn) {
		c.bo = &backoff.Backoff{Min: min, Max: max, Factor: factor, Jitter: true}
	}
}

// WithDialer replaces the default gorilla dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Conn) { c.dialer = d }
}

// Conn is a pub/sub connection handle. It owns at most one physical
// WebSocket at a time and redials automatically after unexpected drops,
// re-issuing every active subscription.
type Conn struct {
	endpoint string
	dialer   *websocket.Dialer
	bo       *backoff.Backoff

	mu        sync.Mutex
	ws        *websocket.Conn
	state     State
	subs      map[string]*Subscription
	handlers  map[string]Handler
	observers []StateFunc
	closed    bool

	wmu  sync.Mutex // serializes writes to the active WebSocket
	done chan struct{}
}

// Open creates the handle and starts its connect loop. The returned Conn is
// usable immediately; Publish fails with ErrNotConnected until the first
// successful dial.
func Open(endpoint string, opts ...Option) *Conn {
	c := &Conn{
		endpoint: endpoint,
		dialer:   websocket.DefaultDialer,
		bo:       &backoff.Backoff{Min: DefaultReconnectDelay, Max: DefaultReconnectDelay, Factor: 1},
		state:    Connecting,
		subs:     make(map[string]*Subscription),
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.run()
	return c
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Notify registers an observer for state changes. The observer is invoked
// immediately with the current state so callers never miss the initial one.
func (c *Conn) Notify(fn StateFunc) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	state := c.state
	c.mu.Unlock()
	fn(state, nil)
}

// Subscribe registers a handler for a topic. If the connection is live the
// subscribe frame goes out immediately; either way the topic is re-issued
// after every reconnect until unsubscribed.
func (c *Conn) Subscribe(topic string, h Handler) (*Subscription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	sub := &Subscription{ID: uuid.NewString(), Topic: topic, conn: c}
	c.subs[sub.ID] = sub
	c.handlers[sub.ID] = h
	ws := c.ws
	connected := c.state == Connected
	c.mu.Unlock()

	if connected && ws != nil {
		if err := c.writeFrame(ws, Frame{Op: OpSubscribe, Destination: topic}); err != nil {
			// The redial path will re-issue it; the registration stands.
			log.Printf("[transport] subscribe %s deferred: %v", topic, err)
		}
	}
	return sub, nil
}

// Publish sends an application payload to a destination. It fails fast with
// ErrNotConnected when the connection is down; the caller decides whether to
// buffer and retry.
func (c *Conn) Publish(destination string, body []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != Connected || c.ws == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	ws := c.ws
	c.mu.Unlock()
	return c.writeFrame(ws, Frame{Op: OpSend, Destination: destination, Body: body})
}

// Close tears the connection down permanently. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	ws := c.ws
	c.ws = nil
	c.state = Disconnected
	c.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
	c.notify(Disconnected, nil)
	return nil
}

func (c *Conn) unsubscribe(id string) {
	c.mu.Lock()
	sub, ok := c.subs[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.subs, id)
	delete(c.handlers, id)
	topicStillUsed := false
	for _, other := range c.subs {
		if other.Topic == sub.Topic {
			topicStillUsed = true
			break
		}
	}
	ws := c.ws
	connected := c.state == Connected
	c.mu.Unlock()

	if connected && ws != nil && !topicStillUsed {
		if err := c.writeFrame(ws, Frame{Op: OpUnsubscribe, Destination: sub.Topic}); err != nil {
			log.Printf("[transport] unsubscribe %s: %v", sub.Topic, err)
		}
	}
}

// run owns the dial/read/redial cycle until Close.
func (c *Conn) run() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		c.setState(Connecting, nil)
		ws, _, err := c.dialer.Dial(c.endpoint, nil)
		if err != nil {
			if c.isClosed() {
				return
			}
			delay := c.bo.Duration()
			log.Printf("[transport] dial %s failed: %v (retry in %s)", c.endpoint, err, delay)
			c.setState(ReconnectPending, err)
			select {
			case <-c.done:
				return
			case <-time.After(delay):
			}
			continue
		}

		c.bo.Reset()
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			ws.Close()
			return
		}
		c.ws = ws
		c.state = Connected
		topics := c.activeTopicsLocked()
		c.mu.Unlock()

		for _, topic := range topics {
			if err := c.writeFrame(ws, Frame{Op: OpSubscribe, Destination: topic}); err != nil {
				log.Printf("[transport] resubscribe %s: %v", topic, err)
			}
		}
		c.notify(Connected, nil)

		err = c.readLoop(ws)

		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		ws.Close()

		if c.isClosed() {
			return
		}
		delay := c.bo.Duration()
		log.Printf("[transport] connection lost: %v (reconnect in %s)", err, delay)
		c.setState(ReconnectPending, err)
		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}
	}
}

// readLoop pumps frames from one physical connection until it fails. A ping
// goroutine keeps the connection alive for the duration of this loop.
func (c *Conn) readLoop(ws *websocket.Conn) error {
	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ticker.C:
				c.wmu.Lock()
				ws.SetWriteDeadline(time.Now().Add(writeWait))
				err := ws.WriteMessage(websocket.PingMessage, nil)
				c.wmu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Printf("[transport] dropping unparseable frame: %v", err)
			continue
		}
		if frame.Op != OpMessage {
			continue
		}
		for _, h := range c.handlersFor(frame.Destination) {
			h(frame.Body)
		}
	}
}

func (c *Conn) handlersFor(topic string) []Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Handler
	for id, sub := range c.subs {
		if sub.Topic == topic {
			out = append(out, c.handlers[id])
		}
	}
	return out
}

func (c *Conn) activeTopicsLocked() []string {
	seen := make(map[string]bool, len(c.subs))
	var topics []string
	for _, sub := range c.subs {
		if !seen[sub.Topic] {
			seen[sub.Topic] = true
			topics = append(topics, sub.Topic)
		}
	}
	return topics
}

func (c *Conn) writeFrame(ws *websocket.Conn, frame Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(frame)
}

func (c *Conn) setState(state State, err error) {
	c.mu.Lock()
	if c.closed && state != Disconnected {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()
	c.notify(state, err)
}

func (c *Conn) notify(state State, err error) {
	c.mu.Lock()
	observers := make([]StateFunc, len(c.observers))
	copy(observers, c.observers)
	c.mu.Unlock()
	for _, fn := range observers {
		fn(state, err)
	}
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
