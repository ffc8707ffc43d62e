package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/jaredcannon/device-metrics-hub/internal/logs"
	"github.com/sirupsen/logrus"
)

// Channels a dashboard client may subscribe to
const (
	ChannelDevices = "devices"
	ChannelMetrics = "metrics"
	ChannelStocks  = "stocks"
	ChannelMailbox = "mailbox"
)

var knownChannels = map[string]bool{
	ChannelDevices: true,
	ChannelMetrics: true,
	ChannelStocks:  true,
	ChannelMailbox: true,
}

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 256
)

var log = logs.Component("websocket")

// Message represents a WebSocket message
type Message struct {
	Channel string      `json:"channel"`
	Event   string      `json:"event"`
	Data    interface{} `json:"data"`
}

// conn is the subset of *websocket.Conn the client uses
type conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
	SetPongHandler(func(string) error)
	Close() error
}

// Client represents a WebSocket client connection
type Client struct {
	hub      *Hub
	conn     conn
	send     chan []byte
	channels map[string]bool
	mu       sync.RWMutex
	closed   bool          // Track if send channel is closed
	done     chan struct{} // Signal when client is finished
}

// Hub maintains active WebSocket connections and broadcasts messages
type Hub struct {
	clients      map[*Client]bool
	broadcast    chan *Message
	register     chan *Client
	unregister   chan *Client
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	mu           sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:      make(map[*Client]bool),
		broadcast:    make(chan *Message, sendBuffer),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		shutdownChan: make(chan struct{}),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case <-h.shutdownChan:
			log.Info("hub shutting down")
			h.mu.Lock()
			for client := range h.clients {
				client.closeSend()
				client.conn.Close()
			}
			h.clients = make(map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			log.WithField("clients", total).Debug("client connected")

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

func (h *Hub) deliver(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		log.WithError(err).WithField("channel", message.Channel).Warn("failed to marshal message")
		return
	}

	h.mu.RLock()
	var slow []*Client
	for client := range h.clients {
		if !client.Subscribed(message.Channel) {
			continue
		}
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		log.Warn("dropping slow client")
		h.remove(client)
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.closeSend()
	}
}

// Broadcast queues a message for every client subscribed to channel. The
// message is dropped when the queue is full so callers never block.
func (h *Hub) Broadcast(channel string, event string, data interface{}) {
	message := &Message{
		Channel: channel,
		Event:   event,
		Data:    data,
	}
	select {
	case h.broadcast <- message:
	default:
		log.WithFields(logrus.Fields{"channel": channel, "event": event}).Warn("broadcast queue full, dropping message")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown gracefully shuts down the WebSocket hub
func (h *Hub) Shutdown() {
	h.shutdownOnce.Do(func() {
		close(h.shutdownChan)
	})
}

// Subscribed reports whether the client listens on channel
func (c *Client) Subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[channel]
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.send)
		c.closed = true
	}
}

// handleControl applies a subscribe/unsubscribe request. Unknown channels are ignored.
func (c *Client) handleControl(raw []byte) {
	var msg struct {
		Action   string   `json:"action"`
		Channels []string `json:"channels"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, channel := range msg.Channels {
		if !knownChannels[channel] {
			continue
		}
		switch msg.Action {
		case "subscribe":
			c.channels[channel] = true
		case "unsubscribe":
			delete(c.channels, channel)
		}
	}
}

// readPump handles incoming messages from clients
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.shutdownChan:
		}
		c.conn.Close()
		close(c.done)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			log.WithError(err).Debug("read loop finished")
			return
		}
		c.handleControl(message)
	}
}

// writePump handles outgoing messages to clients
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.WithError(err).Debug("write failed")
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

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return newClient(hub, conn)
}

func newClient(hub *Hub, c conn) *Client {
	return &Client{
		hub:      hub,
		conn:     c,
		send:     make(chan []byte, sendBuffer),
		channels: make(map[string]bool),
		done:     make(chan struct{}),
	}
}

// Start registers the client and begins processing. The hub sees the
// registration before the read loop can unregister it.
func (c *Client) Start() {
	select {
	case c.hub.register <- c:
	case <-c.hub.shutdownChan:
		c.conn.Close()
		close(c.done)
		return
	}
	go c.writePump()
	go c.readPump()
}

// Wait blocks until the client connection is closed
func (c *Client) Wait() {
	<-c.done
}
