// Package websocket pushes server-side events, such as simulated telemetry,
// to connected viewers.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// staleAfter is how long a client may stay silent (no pong, no message)
// before the hub drops it
const staleAfter = 90 * time.Second

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	clients   map[*Client]bool
	clientsMu sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *envelope

	handlers   map[string]MessageHandler
	handlersMu sync.RWMutex

	onConnect ConnectHandler

	logger *zap.Logger

	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// Message represents a WebSocket message
type Message struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Payload interface{}     `json:"-"`
}

// envelope is an encoded message with its topic. An empty topic reaches
// every client.
type envelope struct {
	topic string
	data  []byte
}

// MessageHandler is a function that handles incoming messages
type MessageHandler func(ctx context.Context, client *Client, message *Message) error

// ConnectHandler runs once for every newly registered client
type ConnectHandler func(client *Client)

// NewHub creates a new Hub instance
func NewHub(ctx context.Context, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	hubCtx, cancel := context.WithCancel(ctx)

	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client, 256),
		unregister: make(chan *Client, 256),
		broadcast:  make(chan *envelope, 1024),
		handlers:   make(map[string]MessageHandler),
		logger:     logger,
		shutdown:   make(chan struct{}),
		ctx:        hubCtx,
		cancel:     cancel,
	}
}

// RegisterHandler registers a message handler for a specific message type
func (h *Hub) RegisterHandler(messageType string, handler MessageHandler) {
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	h.handlers[messageType] = handler
}

// OnConnect sets the handler run for each new client
func (h *Hub) OnConnect(handler ConnectHandler) {
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	h.onConnect = handler
}

// Run starts the hub's main event loop. It returns after Shutdown or when
// the hub's context is cancelled.
func (h *Hub) Run() {
	h.wg.Add(1)
	defer h.wg.Done()

	cleanupTicker := time.NewTicker(30 * time.Second)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.cleanup()
			return

		case <-h.shutdown:
			h.cleanup()
			return

		case client := <-h.register:
			h.clientsMu.Lock()
			h.clients[client] = true
			h.clientsMu.Unlock()
			h.logger.Debug("websocket client registered",
				zap.String("client", client.ID),
				zap.Int("clients", h.ClientCount()))

			h.handlersMu.RLock()
			onConnect := h.onConnect
			h.handlersMu.RUnlock()
			if onConnect != nil {
				onConnect(client)
			}

		case client := <-h.unregister:
			h.clientsMu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closed.Store(true)
				close(client.send)
			}
			h.clientsMu.Unlock()
			h.logger.Debug("websocket client unregistered",
				zap.String("client", client.ID),
				zap.Int("clients", h.ClientCount()))

		case env := <-h.broadcast:
			h.deliver(env)

		case <-cleanupTicker.C:
			h.cleanupStaleConnections()
		}
	}
}

// deliver sends an encoded message to every client subscribed to its topic
func (h *Hub) deliver(env *envelope) {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	for client := range h.clients {
		if env.topic != "" && !client.Subscribed(env.topic) {
			continue
		}
		select {
		case client.send <- env.data:
		default:
			h.logger.Debug("websocket send buffer full; frame dropped",
				zap.String("client", client.ID))
		}
	}
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(message *Message) {
	h.BroadcastTopic("", message)
}

// BroadcastTopic sends a message to clients subscribed to topic. Clients
// without subscriptions receive every topic.
func (h *Hub) BroadcastTopic(topic string, message *Message) {
	data, err := marshalMessage(message)
	if err != nil {
		h.logger.Warn("websocket message not encoded", zap.String("type", message.Type), zap.Error(err))
		return
	}

	select {
	case h.broadcast <- &envelope{topic: topic, data: data}:
	case <-h.ctx.Done():
	default:
		h.logger.Warn("websocket broadcast queue full; message dropped", zap.String("type", message.Type))
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// HandleMessage processes an incoming message from a client
func (h *Hub) HandleMessage(ctx context.Context, client *Client, data []byte) error {
	var message Message
	if err := json.Unmarshal(data, &message); err != nil {
		return err
	}

	h.handlersMu.RLock()
	handler, ok := h.handlers[message.Type]
	h.handlersMu.RUnlock()

	if !ok {
		h.logger.Debug("no websocket handler for message type", zap.String("type", message.Type))
		return nil
	}

	return handler(ctx, client, &message)
}

// cleanup closes all client connections
func (h *Hub) cleanup() {
	h.clientsMu.Lock()
	h.logger.Info("websocket hub stopping", zap.Int("clients", len(h.clients)))
	for client := range h.clients {
		client.closed.Store(true)
		client.stop()
		if client.conn != nil {
			client.conn.Close()
		}
	}
	h.clients = make(map[*Client]bool)
	h.clientsMu.Unlock()
}

// cleanupStaleConnections removes clients that have been silent too long
func (h *Hub) cleanupStaleConnections() {
	h.clientsMu.RLock()
	stale := make([]*Client, 0)
	for client := range h.clients {
		if time.Since(client.GetLastHeartbeat()) > staleAfter {
			stale = append(stale, client)
		}
	}
	h.clientsMu.RUnlock()

	for _, client := range stale {
		h.logger.Info("dropping stale websocket client", zap.String("client", client.ID))
		h.unregister <- client
	}
}

// Shutdown stops the hub and waits for Run to return
func (h *Hub) Shutdown() {
	h.shutdownOnce.Do(func() {
		h.cancel()
		close(h.shutdown)
	})
	h.wg.Wait()
}
