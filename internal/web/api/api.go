// Package api exposes scenes, conversions and telemetry over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/usdbridge/usdbridge/internal/history"
	"github.com/usdbridge/usdbridge/internal/pipeline"
	"github.com/usdbridge/usdbridge/internal/usda/metadata"
	"github.com/usdbridge/usdbridge/internal/web/cache"
	"github.com/usdbridge/usdbridge/internal/web/middleware"
	"github.com/usdbridge/usdbridge/internal/web/profiling"
	"github.com/usdbridge/usdbridge/internal/web/response"
	"github.com/usdbridge/usdbridge/internal/web/static"
	"github.com/usdbridge/usdbridge/internal/web/websocket"
)

// DefaultMaxUploadBytes bounds uploaded scene files
const DefaultMaxUploadBytes = 32 << 20

// ModelsPrefix is the URL prefix converted models are served under
const ModelsPrefix = "/models"

// EventModelConverted is broadcast to websocket clients after a conversion
const EventModelConverted = "model_converted"

// Options configures the API
type Options struct {
	ScenesDir string
	OutputDir string
	// StaticDir holds the viewer bundle; empty disables UI serving
	StaticDir string
	// Format is the default output format, glb or gltf
	Format         string
	CacheTTL       time.Duration
	AllowedOrigins []string
	MaxUploadBytes int64
	// MaxConversions bounds concurrent converter runs
	MaxConversions int64
	// Profiling mounts pprof under /debug/pprof and runtime stats under
	// /debug/stats
	Profiling bool
}

// HistoryStore records and lists conversions
type HistoryStore interface {
	Record(ctx context.Context, rec *history.Record) error
	Recent(ctx context.Context, limit int) ([]history.Record, error)
	Get(ctx context.Context, id string) (*history.Record, error)
}

// Registry tracks entities that receive simulated telemetry
type Registry interface {
	Register(mapping metadata.Mapping) int
	Entities() []string
}

// Notifier pushes events to connected viewers
type Notifier interface {
	Broadcast(message *websocket.Message)
}

// Deps are the collaborators of the API. Only Pipeline is required.
type Deps struct {
	Pipeline  *pipeline.Pipeline
	Cache     cache.Cache
	History   HistoryStore
	Telemetry Registry
	Events    Notifier
	Websocket http.Handler
	Logger    *zap.Logger
}

// API serves the HTTP interface
type API struct {
	opts Options
	deps Deps

	logger *zap.Logger
	slots  *semaphore.Weighted
	flight singleflight.Group
}

// New creates the API
func New(opts Options, deps Deps) *API {
	if opts.Format == "" {
		opts.Format = "glb"
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.MaxConversions <= 0 {
		opts.MaxConversions = 1
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &API{
		opts:   opts,
		deps:   deps,
		logger: logger,
		slots:  semaphore.NewWeighted(opts.MaxConversions),
	}
}

// Routes builds the router
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Stack(a.logger, a.opts.AllowedOrigins, "/healthz").Handlers()...)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.RenderNotFound(w, "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.RenderError(w, http.StatusMethodNotAllowed, response.NewHTTPError(http.StatusMethodNotAllowed, "Method not allowed"))
	})

	r.Get("/healthz", a.health)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Compression())

		r.Get("/scenes", a.listScenes)
		r.Get("/scenes/{name}/metadata", a.sceneMetadata)
		r.Get("/scenes/{name}/model", a.sceneModel)
		r.Post("/scenes/{name}/convert", a.convert)
		r.Post("/upload", a.upload)

		r.Get("/conversions", a.listConversions)
		r.Get("/conversions/{id}", a.getConversion)

		r.Get("/telemetry/entities", a.telemetryEntities)
	})

	if a.deps.Websocket != nil {
		r.Handle("/ws/telemetry", a.deps.Websocket)
	}

	if a.opts.Profiling {
		profiling.RegisterRoutes(r, profiling.DefaultConfig())
	}

	r.Handle(ModelsPrefix+"/*", static.FileServer(static.ModelsConfig(a.opts.OutputDir, ModelsPrefix)))
	if a.opts.StaticDir != "" {
		r.Handle("/*", static.FileServer(static.UIConfig(a.opts.StaticDir)))
	}

	return r
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"cache":     a.deps.Cache != nil,
		"history":   a.deps.History != nil,
		"converter": a.deps.Pipeline != nil && a.deps.Pipeline.Converter != nil,
	}
	if sr, ok := a.deps.Cache.(cache.StatsReporter); ok {
		body["cache_stats"] = sr.Stats()
	}
	response.JSON(w, http.StatusOK, body)
}
