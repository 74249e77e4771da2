package websocket

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/usdbridge/usdbridge/internal/web/middleware"
)

// Config holds WebSocket configuration
type Config struct {
	// Buffer sizes
	ReadBufferSize  int
	WriteBufferSize int

	// AllowedOrigins lists browser origins that may connect, in the same
	// form the CORS middleware accepts. Same-host requests and clients that
	// send no Origin header are always accepted.
	AllowedOrigins []string

	// Enable compression
	EnableCompression bool

	Logger *zap.Logger
}

// DefaultConfig returns default WebSocket configuration
func DefaultConfig() *Config {
	return &Config{
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		AllowedOrigins:    []string{"*"},
		EnableCompression: false,
		Logger:            zap.NewNop(),
	}
}

// Upgrader upgrades HTTP connections to WebSocket
type Upgrader struct {
	config   *Config
	upgrader *websocket.Upgrader
	hub      *Hub
	logger   *zap.Logger
}

// NewUpgrader creates a new Upgrader
func NewUpgrader(config *Config, hub *Hub) *Upgrader {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	u := &Upgrader{
		config: config,
		hub:    hub,
		logger: logger,
	}
	u.upgrader = &websocket.Upgrader{
		ReadBufferSize:    config.ReadBufferSize,
		WriteBufferSize:   config.WriteBufferSize,
		CheckOrigin:       u.checkOrigin,
		EnableCompression: config.EnableCompression,
	}
	return u
}

func (u *Upgrader) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if parsed, err := url.Parse(origin); err == nil && strings.EqualFold(parsed.Host, r.Host) {
		return true
	}
	return middleware.OriginAllowed(origin, u.config.AllowedOrigins)
}

// ServeHTTP handles WebSocket upgrade requests
func (u *Upgrader) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Upgrade writes its own error response
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		u.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), conn, u.hub)
	u.hub.register <- client

	go client.WritePump()
	go client.ReadPump()

	u.logger.Debug("websocket connection established",
		zap.String("client", client.ID),
		zap.String("request_id", middleware.GetRequestID(r.Context())))
}

// Handler returns an http.HandlerFunc for WebSocket upgrade
func (u *Upgrader) Handler() http.HandlerFunc {
	return u.ServeHTTP
}

// Server wraps Hub and Upgrader for convenient WebSocket server setup
type Server struct {
	Hub      *Hub
	Upgrader *Upgrader
	Config   *Config
}

// NewServer creates a hub with the default handlers and an upgrader for it
func NewServer(ctx context.Context, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	hub := NewHub(ctx, config.Logger)
	upgrader := NewUpgrader(config, hub)

	RegisterDefaultHandlers(hub)

	return &Server{
		Hub:      hub,
		Upgrader: upgrader,
		Config:   config,
	}
}

// Start starts the hub's event loop
func (s *Server) Start() {
	go s.Hub.Run()
}

// Shutdown stops the hub and closes every connection
func (s *Server) Shutdown() {
	s.Hub.Shutdown()
}

// Handler returns the HTTP handler for WebSocket upgrade
func (s *Server) Handler() http.HandlerFunc {
	return s.Upgrader.Handler()
}
