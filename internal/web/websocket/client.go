package websocket

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Viewers only send small control messages
	maxMessageSize = 64 * 1024
)

// ErrClientClosed is returned when sending to a client that has gone away
var ErrClientClosed = errors.New("websocket client closed")

// ErrSendBufferFull is returned when a client is not draining its messages
var ErrSendBufferFull = errors.New("websocket send buffer full")

// Client represents a WebSocket client connection
type Client struct {
	// Unique client identifier
	ID string

	conn *websocket.Conn
	hub  *Hub

	// Buffered channel of outbound messages
	send chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	lastHeartbeat time.Time
	heartbeatMu   sync.RWMutex

	// Topics the client asked for; empty means every topic
	subscriptions   map[string]bool
	subscriptionsMu sync.RWMutex

	connectedAt time.Time

	closed atomic.Bool
}

// NewClient creates a new Client instance
func NewClient(id string, conn *websocket.Conn, hub *Hub) *Client {
	ctx, cancel := context.WithCancel(hub.ctx)

	return &Client{
		ID:            id,
		conn:          conn,
		hub:           hub,
		send:          make(chan []byte, 256),
		ctx:           ctx,
		cancel:        cancel,
		lastHeartbeat: time.Now(),
		subscriptions: make(map[string]bool),
		connectedAt:   time.Now(),
	}
}

// ReadPump pumps messages from the WebSocket connection to the hub
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.updateHeartbeat()
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			_, message, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					c.hub.logger.Debug("websocket read failed", zap.String("client", c.ID), zap.Error(err))
				}
				return
			}

			c.updateHeartbeat()

			if err := c.hub.HandleMessage(c.ctx, c, message); err != nil {
				c.hub.logger.Debug("websocket message rejected", zap.String("client", c.ID), zap.Error(err))
				c.SendError(err.Error())
			}
		}
	}
}

// WritePump pumps messages from the hub to the WebSocket connection. Each
// queued message is written as its own text frame.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// Send queues a message for the client
func (c *Client) Send(message *Message) (err error) {
	// The hub may close the channel between the check and the send
	defer func() {
		if r := recover(); r != nil {
			err = ErrClientClosed
		}
	}()

	if c.closed.Load() {
		return ErrClientClosed
	}

	data, err := marshalMessage(message)
	if err != nil {
		return err
	}

	if c.closed.Load() {
		return ErrClientClosed
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done():
		return context.Canceled
	default:
		return ErrSendBufferFull
	}
}

// SendError sends an error message to the client
func (c *Client) SendError(errorMsg string) {
	// Ignore error if send fails - client may be closed
	_ = c.Send(&Message{
		Type: "error",
		Payload: map[string]string{
			"message": errorMsg,
		},
	})
}

// SendJSON sends a JSON message to the client
func (c *Client) SendJSON(messageType string, payload interface{}) error {
	return c.Send(&Message{
		Type:    messageType,
		Payload: payload,
	})
}

// Subscribe limits the client to the given topics, adding to any it
// already has
func (c *Client) Subscribe(topics ...string) {
	c.subscriptionsMu.Lock()
	defer c.subscriptionsMu.Unlock()
	if c.subscriptions == nil {
		c.subscriptions = make(map[string]bool)
	}
	for _, topic := range topics {
		if topic != "" {
			c.subscriptions[topic] = true
		}
	}
}

// Unsubscribe removes topics. With no arguments it clears every
// subscription and the client receives all topics again.
func (c *Client) Unsubscribe(topics ...string) {
	c.subscriptionsMu.Lock()
	defer c.subscriptionsMu.Unlock()
	if len(topics) == 0 {
		c.subscriptions = make(map[string]bool)
		return
	}
	for _, topic := range topics {
		delete(c.subscriptions, topic)
	}
}

// Subscribed reports whether messages on topic reach the client
func (c *Client) Subscribed(topic string) bool {
	c.subscriptionsMu.RLock()
	defer c.subscriptionsMu.RUnlock()
	if len(c.subscriptions) == 0 {
		return true
	}
	return c.subscriptions[topic]
}

// Subscriptions returns the client's topics in sorted order
func (c *Client) Subscriptions() []string {
	c.subscriptionsMu.RLock()
	defer c.subscriptionsMu.RUnlock()
	topics := make([]string, 0, len(c.subscriptions))
	for topic := range c.subscriptions {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// updateHeartbeat updates the last heartbeat timestamp
func (c *Client) updateHeartbeat() {
	c.heartbeatMu.Lock()
	defer c.heartbeatMu.Unlock()
	c.lastHeartbeat = time.Now()
}

// GetLastHeartbeat returns the last heartbeat timestamp
func (c *Client) GetLastHeartbeat() time.Time {
	c.heartbeatMu.RLock()
	defer c.heartbeatMu.RUnlock()
	return c.lastHeartbeat
}

// ConnectionDuration returns how long the client has been connected
func (c *Client) ConnectionDuration() time.Duration {
	return time.Since(c.connectedAt)
}

// Close gracefully closes the client connection
func (c *Client) Close() {
	c.closed.Store(true)
	c.stop()
	c.hub.unregister <- c
}

func (c *Client) done() <-chan struct{} {
	if c.ctx == nil {
		return nil
	}
	return c.ctx.Done()
}

func (c *Client) stop() {
	if c.cancel != nil {
		c.cancel()
	}
}
